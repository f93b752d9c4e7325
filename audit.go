package goMFA

import (
	"io"

	"github.com/MrEthical07/goMFA/internal/audit"
	"github.com/MrEthical07/goMFA/store"
	"go.uber.org/zap"
)

// AuditEvent is one factor outcome. Every public factor operation emits
// exactly one, success or failure.
type AuditEvent = audit.Event

// AuditSink receives audit events. Emit must not block the caller for long
// and must not fail the operation; failing sinks log through zap.
type AuditSink = audit.Sink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// MultiSink fans one event out to several sinks in order.
type MultiSink = audit.MultiSink

// NewChannelSink returns a sink that publishes events on a buffered channel.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink logs events at Info level through logger.
func NewZapSink(logger *zap.Logger) *audit.ZapSink {
	return audit.NewZapSink(logger)
}

// NewStoreSink persists events as store.AuditEvent rows. Write failures are
// logged at Warn and never reach the factor operation.
func NewStoreSink(s store.Tx, logger *zap.Logger) *audit.StoreSink {
	return audit.NewStoreSink(s, logger)
}
