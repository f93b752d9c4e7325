package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/MrEthical07/goMFA/store"
	"go.uber.org/zap"
)

// Event is the canonical audit record produced by every factor operation.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Event     string            `json:"event"`
	Factor    string            `json:"factor"`
	UserID    string            `json:"user_id,omitempty"`
	Origin    string            `json:"origin,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Record converts e to its persisted shape.
func (e Event) Record() *store.AuditEvent {
	return &store.AuditEvent{
		ID:        e.ID,
		UserID:    e.UserID,
		Factor:    e.Factor,
		Event:     e.Event,
		Detail:    e.Detail,
		Origin:    e.Origin,
		UserAgent: e.UserAgent,
		Success:   e.Success,
		Error:     e.Error,
		Timestamp: e.Timestamp,
	}
}

// Sink receives emitted audit events. Emit must not fail the caller: sinks
// that can fail report through their own logger.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

// NewChannelSink returns a sink with the given channel capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receive side.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink writes to w under a mutex.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// ZapSink writes each event as a structured log line.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink logs under the "audit" name.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event Event) {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("factor", event.Factor),
		zap.String("user_id", event.UserID),
		zap.Bool("success", event.Success),
		zap.Time("ts", event.Timestamp),
	}
	if event.Origin != "" {
		fields = append(fields, zap.String("origin", event.Origin))
	}
	if event.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", event.UserAgent))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error_code", event.Error))
	}
	if len(event.Detail) > 0 {
		fields = append(fields, zap.Any("detail", event.Detail))
	}
	s.logger.Info(event.Event, fields...)
}

// Appender is the persistence contract StoreSink writes through.
type Appender interface {
	AppendAuditEvent(ctx context.Context, e *store.AuditEvent) error
}

// StoreSink persists events as store.AuditEvent rows. Write failures are
// logged at warn level and otherwise ignored.
type StoreSink struct {
	store  Appender
	logger *zap.Logger
}

// NewStoreSink writes through s.
func NewStoreSink(s Appender, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: s, logger: logger}
}

func (s *StoreSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.store == nil {
		return
	}
	// A cancelled request still gets its audit row.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.AppendAuditEvent(ctx, event.Record()); err != nil {
		s.logger.Warn("audit write failed",
			zap.String("event", event.Event),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

// MultiSink fans every event out to each member in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
