// main package for the playback worker.
//
// The worker is started by the playback engine and speaks the line protocol
// of internal/playback on stdin and stdout. It renders one MP3 file at a time
// to the default audio output.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-notifier/internal/playback"
)

const logFileName = "playback-worker.log"

// playFunc renders the file at path with a linear volume.
type playFunc func(path string, volume float64) error

// serve runs the protocol loop until QUIT or end of input.
func serve(input io.Reader, output io.Writer, play playFunc, log *logger.Logger) error {
	_, err := fmt.Fprintln(output, playback.CommandReady)
	if err != nil {
		return fmt.Errorf("failed to announce readiness: %w", err)
	}

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, playback.MaxLineLength), playback.MaxLineLength)

	for scanner.Scan() {
		msg, parseErr := playback.ParseLine(scanner.Text())
		if parseErr != nil {
			log.Warn("Ignoring command: %v", parseErr)

			continue
		}

		switch msg.Command {
		case playback.CommandQuit:
			log.Info("Received %s, exiting", playback.CommandQuit)

			return nil
		case playback.CommandPlay:
			reply := playback.EncodeDone(msg.JobID)

			playErr := play(msg.Path, msg.Volume)
			if playErr != nil {
				log.Error("Failed to play %s: %v", msg.Path, playErr)

				reply = playback.EncodeFail(msg.JobID, playErr.Error())
			}

			_, err = fmt.Fprintln(output, reply)
			if err != nil {
				return fmt.Errorf("failed to report job %s: %w", msg.JobID, err)
			}
		default:
			log.Warn("Ignoring unexpected command %s", msg.Command)
		}
	}

	err = scanner.Err()
	if err != nil {
		return fmt.Errorf("failed to read commands: %w", err)
	}

	return nil
}

func run() error {
	log, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	output, err := openOutput()
	if err != nil {
		log.Error("Failed to open audio output: %v", err)

		return err
	}

	defer func() {
		closeErr := output.Close()
		if closeErr != nil {
			log.Warn("Failed to close audio output: %v", closeErr)
		}
	}()

	log.System("Playback worker started (pid %d)", os.Getpid())

	return serve(os.Stdin, os.Stdout, output.PlayFile, log)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "playback worker exited with error: %v\n", err)
		os.Exit(1)
	}
}
