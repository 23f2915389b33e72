// Package playback serializes audio playback through one long-lived external
// worker process.
//
// The engine owns the worker: it starts it lazily, feeds it one job at a time
// over stdin, reads completions from stdout and tears it down after an idle
// period. Callers only see a FIFO queue of files and a future per file.
package playback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/speech-notifier/internal/metrics"
	"github.com/book-expert/speech-notifier/internal/tts/audio"
)

// Timing defaults.
const (
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultJobTimeout   = 2 * time.Minute
	DefaultReadyTimeout = 10 * time.Second
	DefaultQuitGrace    = 2 * time.Second
	JobTimeoutSlack     = 5 * time.Second
)

const lineBufferSize = 16

// State is the lifecycle state of the worker process.
type State string

const (
	StateAbsent   State = "absent"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateBusy     State = "busy"
)

var (
	// ErrFileNotFound indicates a job whose file does not exist.
	ErrFileNotFound = errors.New("audio file not found")
	// ErrWorkerStart indicates that the worker could not be started.
	ErrWorkerStart = errors.New("failed to start playback worker")
	// ErrWorkerExited indicates that the worker died with jobs pending.
	ErrWorkerExited = errors.New("playback worker exited")
	// ErrJobTimeout indicates a job that did not complete in time.
	ErrJobTimeout = errors.New("playback job timed out")
	// ErrPlaybackFailed indicates a job the worker reported as failed.
	ErrPlaybackFailed = errors.New("playback failed")
	// ErrStopped indicates a job discarded by Stop.
	ErrStopped = errors.New("playback stopped")
	// ErrClosed indicates a job submitted after Close.
	ErrClosed = errors.New("playback engine closed")
	// ErrCommandEmpty indicates an engine without a worker command.
	ErrCommandEmpty = errors.New("worker command cannot be empty")
)

// Options configures an Engine.
type Options struct {
	// Command and Args launch the worker.
	Command string
	Args    []string
	// Env is appended to the current environment of the worker.
	Env []string
	// Volume is sent with every job. 1 is unity gain and 0 is silent.
	Volume float64

	IdleTimeout  time.Duration
	JobTimeout   time.Duration
	ReadyTimeout time.Duration
	QuitGrace    time.Duration

	Metrics *metrics.Collector
}

func (o *Options) applyDefaults() {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}

	if o.JobTimeout <= 0 {
		o.JobTimeout = DefaultJobTimeout
	}

	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}

	if o.QuitGrace <= 0 {
		o.QuitGrace = DefaultQuitGrace
	}

	if o.Volume < 0 {
		o.Volume = 0
	}
}

// job is one queued file and its future.
type job struct {
	id      string
	path    string
	done    chan error
	once    sync.Once
	started time.Time
}

func (j *job) finish(err error) {
	j.once.Do(func() {
		j.done <- err
		close(j.done)
	})
}

// Engine plays files strictly one after another through the worker.
type Engine struct {
	opts   Options
	logger *logger.Logger
	probe  func(path string) (time.Duration, error)

	mu         sync.Mutex
	queue      []*job
	current    *job
	proc       *process
	state      State
	draining   bool
	closed     bool
	generation uint64
	idleTimer  *time.Timer
	idleSeq    uint64
}

// NewEngine creates an Engine. No process is started until the first job.
func NewEngine(opts Options, log *logger.Logger) (*Engine, error) {
	if opts.Command == "" {
		return nil, ErrCommandEmpty
	}

	opts.applyDefaults()

	return &Engine{
		opts:   opts,
		logger: log,
		probe:  audio.FileDuration,
		state:  StateAbsent,
	}, nil
}

// State returns the current worker state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// QueueLength returns the number of jobs waiting behind the in-flight one.
func (e *Engine) QueueLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.queue)
}

// Enqueue adds path to the playback queue. The returned channel receives
// exactly one value, nil on success, and is then closed.
func (e *Engine) Enqueue(path string) <-chan error {
	newJob := &job{id: uuid.NewString(), done: make(chan error, 1)}

	absPath, err := filepath.Abs(path)
	if err != nil {
		newJob.finish(fmt.Errorf("%w: %s: %w", ErrFileNotFound, path, err))

		return newJob.done
	}

	newJob.path = absPath

	info, err := os.Stat(absPath)
	if err != nil || !info.Mode().IsRegular() {
		newJob.finish(fmt.Errorf("%w: %s", ErrFileNotFound, absPath))

		return newJob.done
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		newJob.finish(ErrClosed)

		return newJob.done
	}

	e.stopIdleTimerLocked()

	e.queue = append(e.queue, newJob)

	if !e.draining {
		e.draining = true

		go e.drain()
	}

	return newJob.done
}

// Play enqueues path and waits for it to finish or for ctx to end. A
// cancelled wait leaves the job in the queue.
func (e *Engine) Play(ctx context.Context, path string) error {
	select {
	case err := <-e.Enqueue(path):
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for playback: %w", ctx.Err())
	}
}

// Stop discards every pending job with ErrStopped and kills the worker
// immediately. The engine stays usable.
func (e *Engine) Stop() {
	e.mu.Lock()

	pending := e.queue
	current := e.current
	proc := e.proc

	e.queue = nil
	e.proc = nil
	e.state = StateAbsent
	e.generation++
	e.stopIdleTimerLocked()

	e.mu.Unlock()

	if current != nil {
		current.finish(ErrStopped)
	}

	for _, pendingJob := range pending {
		pendingJob.finish(ErrStopped)
	}

	if proc != nil {
		proc.kill()
	}
}

// Close stops the engine and rejects further jobs with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.Stop()

	return nil
}

// drain runs the queue until it is empty. At most one drain goroutine exists.
func (e *Engine) drain() {
	for {
		e.mu.Lock()

		if len(e.queue) == 0 || e.closed {
			e.draining = false
			e.current = nil
			e.armIdleTimerLocked()
			e.mu.Unlock()

			return
		}

		next := e.queue[0]
		e.queue = e.queue[1:]
		e.current = next

		e.mu.Unlock()

		next.started = time.Now()
		err := e.run(next)

		e.opts.Metrics.RecordPlayback(time.Since(next.started), err)

		if err != nil {
			e.logger.Warn("Playback of %s failed: %v", next.path, err)
		}

		next.finish(err)
	}
}

// run dispatches one job and waits for its completion line.
func (e *Engine) run(current *job) error {
	line, err := EncodePlay(current.id, current.path, e.opts.Volume)
	if err != nil {
		return err
	}

	proc, err := e.ensureWorker()
	if err != nil {
		return err
	}

	if !e.transition(proc, StateBusy) {
		return ErrStopped
	}

	_, err = io.WriteString(proc.stdin, line+"\n")
	if err != nil {
		e.workerLost(proc)

		return fmt.Errorf("%w: write failed: %w", ErrWorkerExited, err)
	}

	timeout := e.jobTimeout(current.path)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case raw := <-proc.lines:
			done, result := e.handleLine(current, raw)
			if !done {
				continue
			}

			e.transition(proc, StateReady)

			return result
		case <-proc.exited:
			e.workerLost(proc)

			return fmt.Errorf("%w: %s", ErrWorkerExited, proc.exitReason())
		case <-timer.C:
			e.release(proc)
			proc.kill()

			return fmt.Errorf("%w after %s", ErrJobTimeout, timeout)
		}
	}
}

// handleLine reports whether raw completes current, and with which result.
func (e *Engine) handleLine(current *job, raw string) (bool, error) {
	msg, err := ParseLine(raw)
	if err != nil {
		e.logger.Warn("Ignoring worker output: %v", err)

		return false, nil
	}

	switch msg.Command {
	case CommandDone, CommandFail:
		if msg.JobID != current.id {
			e.logger.Warn("Ignoring completion for unknown job %s", msg.JobID)

			return false, nil
		}

		if msg.Command == CommandFail {
			return true, fmt.Errorf("%w: %s", ErrPlaybackFailed, msg.Detail)
		}

		return true, nil
	default:
		e.logger.Warn("Ignoring unexpected worker message %s", msg.Command)

		return false, nil
	}
}

func (e *Engine) jobTimeout(path string) time.Duration {
	duration, err := e.probe(path)
	if err != nil || duration <= 0 {
		return e.opts.JobTimeout
	}

	return duration + JobTimeoutSlack
}

// ensureWorker returns the running worker, starting one if needed.
func (e *Engine) ensureWorker() (*process, error) {
	e.mu.Lock()

	if e.proc != nil {
		proc := e.proc
		e.mu.Unlock()

		return proc, nil
	}

	generation := e.generation
	e.state = StateStarting
	e.mu.Unlock()

	proc, err := e.startWorker()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.generation != generation {
		if proc != nil {
			go proc.kill()
		}

		return nil, ErrStopped
	}

	if err != nil {
		e.state = StateAbsent

		return nil, err
	}

	e.proc = proc
	e.state = StateReady

	go e.watch(proc)

	return proc, nil
}

func (e *Engine) startWorker() (*process, error) {
	// #nosec G204 -- the worker command comes from the local configuration
	cmd := exec.Command(e.opts.Command, e.opts.Args...)
	cmd.Env = append(os.Environ(), e.opts.Env...)
	cmd.Stderr = &stderrLogger{logger: e.logger}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin: %w", ErrWorkerStart, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout: %w", ErrWorkerStart, err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrWorkerStart, e.opts.Command, err)
	}

	proc := newProcess(cmd, stdin)

	go proc.readLoop(stdout)

	e.opts.Metrics.RecordWorkerStart()

	err = proc.awaitReady(e.opts.ReadyTimeout)
	if err != nil {
		proc.kill()

		return nil, fmt.Errorf("%w: %w", ErrWorkerStart, err)
	}

	e.logger.Info("Playback worker started (pid %d)", cmd.Process.Pid)

	return proc, nil
}

// watch handles a worker that exits while idle.
func (e *Engine) watch(proc *process) {
	<-proc.exited

	if e.workerLost(proc) {
		e.logger.Warn("Playback worker exited: %s", proc.exitReason())
	}
}

// workerLost detaches proc after an unexpected exit and fails every queued
// job. It reports false when proc was already released.
func (e *Engine) workerLost(proc *process) bool {
	e.mu.Lock()

	if e.proc != proc {
		e.mu.Unlock()

		return false
	}

	pending := e.queue
	e.queue = nil
	e.proc = nil
	e.state = StateAbsent

	e.mu.Unlock()

	proc.kill()

	for _, pendingJob := range pending {
		pendingJob.finish(fmt.Errorf("%w: %s", ErrWorkerExited, proc.exitReason()))
	}

	return true
}

// release detaches proc without touching the queue.
func (e *Engine) release(proc *process) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proc == proc {
		e.proc = nil
		e.state = StateAbsent
	}
}

// transition sets the state if proc is still the current worker.
func (e *Engine) transition(proc *process, state State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proc != proc {
		return false
	}

	e.state = state

	return true
}

func (e *Engine) armIdleTimerLocked() {
	if e.proc == nil {
		return
	}

	e.stopIdleTimerLocked()

	seq := e.idleSeq
	e.idleTimer = time.AfterFunc(e.opts.IdleTimeout, func() {
		e.idleTeardown(seq)
	})
}

// stopIdleTimerLocked also invalidates a callback that already fired.
func (e *Engine) stopIdleTimerLocked() {
	e.idleSeq++

	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
}

// idleTeardown asks an idle worker to quit and kills it after the grace period.
func (e *Engine) idleTeardown(seq uint64) {
	e.mu.Lock()

	if seq != e.idleSeq || e.draining || len(e.queue) > 0 || e.proc == nil {
		e.mu.Unlock()

		return
	}

	proc := e.proc
	e.proc = nil
	e.state = StateAbsent
	e.idleTimer = nil

	e.mu.Unlock()

	e.logger.Info("Playback worker idle for %s, shutting it down", e.opts.IdleTimeout)

	proc.quit(e.opts.QuitGrace)
}

// stderrLogger forwards worker stderr to the log.
type stderrLogger struct {
	logger *logger.Logger
}

func (w *stderrLogger) Write(data []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line != "" {
			w.logger.Warn("playback worker: %s", line)
		}
	}

	return len(data), nil
}

// process is one running worker.
type process struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	lines    chan string
	exited   chan struct{}
	released chan struct{}

	releaseOnce sync.Once
	exitErr     error
	scanErr     error
}

func newProcess(cmd *exec.Cmd, stdin io.WriteCloser) *process {
	return &process{
		cmd:      cmd,
		stdin:    stdin,
		lines:    make(chan string, lineBufferSize),
		exited:   make(chan struct{}),
		released: make(chan struct{}),
	}
}

// readLoop delivers stdout lines until EOF, then reaps the process.
func (p *process) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, MaxLineLength), MaxLineLength)

	for scanner.Scan() {
		select {
		case p.lines <- scanner.Text():
		case <-p.released:
		}
	}

	p.scanErr = scanner.Err()
	if p.scanErr != nil {
		_ = p.cmd.Process.Kill()
	}

	p.exitErr = p.cmd.Wait()
	close(p.exited)
}

func (p *process) awaitReady(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case raw := <-p.lines:
			msg, err := ParseLine(raw)
			if err == nil && msg.Command == CommandReady {
				return nil
			}
		case <-p.exited:
			return fmt.Errorf("worker exited before ready: %s", p.exitReason())
		case <-timer.C:
			return fmt.Errorf("no %s within %s", CommandReady, timeout)
		}
	}
}

// quit sends QUIT and kills the process if it has not exited after grace.
func (p *process) quit(grace time.Duration) {
	p.releaseOnce.Do(func() { close(p.released) })

	_, _ = io.WriteString(p.stdin, CommandQuit+"\n")
	_ = p.stdin.Close()

	select {
	case <-p.exited:
	case <-time.After(grace):
		_ = p.cmd.Process.Kill()
	}
}

func (p *process) kill() {
	p.releaseOnce.Do(func() { close(p.released) })

	_ = p.stdin.Close()
	_ = p.cmd.Process.Kill()
}

// exitReason is only meaningful once exited is closed.
func (p *process) exitReason() string {
	select {
	case <-p.exited:
	default:
		return "running"
	}

	switch {
	case p.scanErr != nil:
		return p.scanErr.Error()
	case p.exitErr != nil:
		return p.exitErr.Error()
	default:
		return "exit status 0"
	}
}
