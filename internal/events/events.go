// Package events publishes pipeline and intervention notifications.
//
// Subjects:
//
//	coachd.pipeline.{pipeline}.completed
//	coachd.intervention.triggered
//	coachd.briefing.morning
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event kinds.
const (
	KindPipelineCompleted     = "pipeline.completed"
	KindInterventionTriggered = "intervention.triggered"
	KindMorningBriefing       = "briefing.morning"
)

const subjectPrefix = "coachd."

// ErrUnknownKind is returned for an event kind with no subject.
var ErrUnknownKind = errors.New("events: unknown event kind")

// Event is one notification.
type Event struct {
	Kind      string         `json:"kind"`
	Pipeline  string         `json:"pipeline,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subject returns the NATS subject for e.
func Subject(e Event) (string, error) {
	switch e.Kind {
	case KindPipelineCompleted:
		if e.Pipeline == "" {
			return "", fmt.Errorf("%w: %s without pipeline", ErrUnknownKind, e.Kind)
		}
		return subjectPrefix + "pipeline." + e.Pipeline + ".completed", nil
	case KindInterventionTriggered, KindMorningBriefing:
		return subjectPrefix + e.Kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

// Publisher delivers events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// NATSPublisher publishes JSON-encoded events to NATS core subjects.
type NATSPublisher struct {
	nc  *nats.Conn
	now func() time.Time
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc, now: time.Now}
}

// Publish implements Publisher. A zero Timestamp is set to now.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	subject, err := Subject(e)
	if err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = p.now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	logging.FromContext(ctx).Debug(ctx, "event published",
		zap.String("subject", subject),
		zap.String("user.id", e.UserID),
	)
	return nil
}

// Connect dials url and returns a publisher with its close function. An
// empty url yields Nop.
func Connect(ctx context.Context, url string) (Publisher, func(), error) {
	if url == "" {
		return Nop{}, func() {}, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("coachd"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.FromContext(ctx).Warn(ctx, "nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, func() {}, fmt.Errorf("connecting to nats: %w", err)
	}
	return NewNATSPublisher(nc), nc.Close, nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	if _, err := Subject(e); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns the recorded events with the given kind.
func (r *Recorder) OfKind(kind string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = (*Recorder)(nil)
)
