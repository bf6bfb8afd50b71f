// Package nats implements the security-event sink port using NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/nimbuscrm/nimbus/internal/port/events"
)

const (
	streamName    = "NIMBUS_SECURITY"
	subjectPrefix = "security."

	// queueDepth bounds the publish backlog. The request path never waits on
	// the sink: when the buffer is full the event is dropped and counted in
	// the log instead.
	queueDepth = 1024
)

// Sink publishes security events to JetStream from a background goroutine.
type Sink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	queue  chan events.Event
	done   chan struct{}
	logger *slog.Logger
}

// Connect establishes the NATS connection, ensures the stream exists, and
// starts the publish loop.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Sink, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ">"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	s := &Sink{
		nc:     nc,
		js:     js,
		queue:  make(chan events.Event, queueDepth),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.publishLoop()

	logger.Info("nats security sink connected", "url", url, "stream", streamName)
	return s, nil
}

// Report enqueues an event without blocking. Full buffer drops the event.
func (s *Sink) Report(ev events.Event) {
	select {
	case s.queue <- ev:
	default:
		s.logger.Warn("security event dropped, sink saturated", "kind", string(ev.Kind))
	}
}

func (s *Sink) publishLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("security event marshal failed", "error", err)
				continue
			}
			subject := subjectPrefix + string(ev.Kind)
			if _, err := s.js.Publish(context.Background(), subject, data); err != nil {
				s.logger.Warn("security event publish failed", "subject", subject, "error", err)
			}
		}
	}
}

// Close stops the publish loop and closes the connection. Queued events that
// have not been published yet are dropped.
func (s *Sink) Close() {
	close(s.done)
	s.nc.Close()
}
