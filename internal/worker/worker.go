// Package worker provides a NATS worker that speaks notifications published
// by other services.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-notifier/internal/speech"
)

// handleMessageTimeout covers synthesis plus waiting behind queued playback.
const handleMessageTimeout = 3 * time.Minute

var (
	// ErrSubjectEmpty indicates a worker without a speak subject.
	ErrSubjectEmpty = errors.New("speak subject cannot be empty")
	// ErrNilConnection indicates a worker without a NATS connection.
	ErrNilConnection = errors.New("nats connection cannot be nil")
)

// SpeakRequestedEvent asks the notifier to speak one line.
type SpeakRequestedEvent struct {
	Header    events.EventHeader `json:"header"`
	Text      string             `json:"text"`
	Language  string             `json:"language"`
	Key       string             `json:"key,omitempty"`
	DungeonID string             `json:"dungeon_id,omitempty"`
}

// SpeakCompletedEvent reports what happened to a SpeakRequestedEvent.
type SpeakCompletedEvent struct {
	Header  events.EventHeader `json:"header"`
	Outcome speech.Outcome     `json:"outcome"`
	Error   string             `json:"error,omitempty"`
}

// Speaker is the part of speech.Speaker the worker drives.
type Speaker interface {
	Play(ctx context.Context, req speech.Request) (speech.Outcome, error)
	Stop()
}

// SpeechWorker listens for speak and stop requests on NATS subjects.
type SpeechWorker struct {
	natsConnection *nats.Conn
	speakSubject   string
	stopSubject    string
	speaker        Speaker
	log            *logger.Logger
}

// NewSpeechWorker creates a worker. stopSubject is optional.
func NewSpeechWorker(
	natsConnection *nats.Conn,
	speakSubject string,
	stopSubject string,
	speaker Speaker,
	log *logger.Logger,
) (*SpeechWorker, error) {
	if natsConnection == nil {
		return nil, ErrNilConnection
	}

	if speakSubject == "" {
		return nil, ErrSubjectEmpty
	}

	return &SpeechWorker{
		natsConnection: natsConnection,
		speakSubject:   speakSubject,
		stopSubject:    stopSubject,
		speaker:        speaker,
		log:            log,
	}, nil
}

// Run subscribes and blocks until ctx is done, then drains the subscriptions.
func (w *SpeechWorker) Run(ctx context.Context) error {
	speakSub, err := w.natsConnection.Subscribe(w.speakSubject, w.handleSpeak)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.speakSubject, err)
	}

	subs := []*nats.Subscription{speakSub}

	if w.stopSubject != "" {
		stopSub, stopErr := w.natsConnection.Subscribe(w.stopSubject, w.handleStop)
		if stopErr != nil {
			_ = speakSub.Unsubscribe()

			return fmt.Errorf("failed to subscribe to subject %s: %w", w.stopSubject, stopErr)
		}

		subs = append(subs, stopSub)
	}

	w.log.Info("Listening for speech requests on %s", w.speakSubject)

	<-ctx.Done()

	var drainErr error

	for _, sub := range subs {
		err = sub.Drain()
		if err != nil {
			drainErr = errors.Join(drainErr, err)
		}
	}

	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *SpeechWorker) handleSpeak(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse speak event: %v", err)
		w.reply(msg, &SpeakCompletedEvent{
			Header:  newHeader(events.EventHeader{}),
			Outcome: speech.OutcomeSkipped,
			Error:   err.Error(),
		})

		return
	}

	outcome, playErr := w.speaker.Play(ctx, speech.Request{
		Text:      event.Text,
		Language:  event.Language,
		Key:       event.Key,
		DungeonID: event.DungeonID,
	})

	completed := &SpeakCompletedEvent{
		Header:  newHeader(event.Header),
		Outcome: outcome,
	}

	if playErr != nil {
		completed.Error = playErr.Error()
	}

	w.reply(msg, completed)
}

func (w *SpeechWorker) handleStop(msg *nats.Msg) {
	w.log.Info("Stop requested on %s", msg.Subject)
	w.speaker.Stop()

	if msg.Reply != "" {
		err := msg.Respond(nil)
		if err != nil {
			w.log.Warn("Failed to acknowledge stop: %v", err)
		}
	}
}

// reply responds when the publisher asked for a reply.
func (w *SpeechWorker) reply(msg *nats.Msg, completed *SpeakCompletedEvent) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(completed)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", completed.Header.WorkflowID, err)
	}
}

func parseEvent(msg *nats.Msg) (*SpeakRequestedEvent, error) {
	var event SpeakRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}

// newHeader keeps the workflow of the request and stamps a new event id.
func newHeader(request events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: request.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}
