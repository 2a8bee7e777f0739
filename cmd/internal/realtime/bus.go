package realtime

import (
	"log/slog"
	"time"

	"nexus/cmd/internal/telemetry"
	v1 "nexus/shared/contracts/realtime/v1"
)

// Event is one outbound event addressed to a user.
type Event struct {
	TargetUserID string
	Topic        string
	Payload      any

	// ExceptSession skips one of the target's sessions, typically the sender's own.
	ExceptSession string
}

// Report is the outcome of one publish.
type Report struct {
	Delivered int
	Dropped   int
}

// Publisher is the entry point business code uses to reach connected users.
type Publisher interface {
	Publish(ev Event) Report
	PublishToUser(userID, topic string, payload any) Report
}

// Bus fans events out to the live sessions in a Registry.
// Publishing never blocks and never returns an error: a session whose queue
// is full or closed loses the event and the loss is counted.
type Bus struct {
	reg     *Registry
	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

var _ Publisher = (*Bus)(nil)

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger used for drop diagnostics.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// WithBusMetrics sets the delivery counters.
func WithBusMetrics(m *telemetry.Metrics) BusOption {
	return func(b *Bus) { b.metrics = m }
}

// NewBus constructs a Bus over reg.
func NewBus(reg *Registry, opts ...BusOption) *Bus {
	b := &Bus{
		reg: reg,
		log: slog.Default(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// PublishToUser delivers topic to every live session of userID.
func (b *Bus) PublishToUser(userID, topic string, payload any) Report {
	return b.Publish(Event{TargetUserID: userID, Topic: topic, Payload: payload})
}

// Publish delivers ev to every live session of ev.TargetUserID.
func (b *Bus) Publish(ev Event) Report {
	if ev.TargetUserID == "" || ev.Topic == "" {
		return Report{}
	}
	handles := b.reg.HandlesFor(ev.TargetUserID)
	if len(handles) == 0 {
		return Report{}
	}
	raw, err := marshalPayload(ev.Payload)
	if err != nil {
		b.log.Error("bus.marshal.fail", "topic", ev.Topic, "err", err)
		return Report{Dropped: len(handles)}
	}
	env := newEnvelope(ev.Topic, v1.DestinationFor(ev.Topic), raw, b.now())

	var rep Report
	for _, s := range handles {
		if s.ID == ev.ExceptSession {
			continue
		}
		b.deliver(s, env, &rep)
	}
	b.metrics.Delivery(ev.Topic, rep.Delivered, rep.Dropped)
	return rep
}

// Broadcast delivers topic to every live session on the presence topic.
func (b *Bus) Broadcast(topic string, payload any) Report {
	raw, err := marshalPayload(payload)
	if err != nil {
		b.log.Error("bus.marshal.fail", "topic", topic, "err", err)
		return Report{}
	}
	env := newEnvelope(topic, v1.DestPresence, raw, b.now())

	var rep Report
	for _, s := range b.reg.All() {
		b.deliver(s, env, &rep)
	}
	b.metrics.Delivery(topic, rep.Delivered, rep.Dropped)
	return rep
}

func (b *Bus) deliver(s *Session, env v1.Envelope, rep *Report) {
	if s.offer(env) {
		rep.Delivered++
		return
	}
	rep.Dropped++
	b.log.Debug("bus.drop", "user_id", s.UserID, "session_id", s.ID, "topic", env.Type)
}
