package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goMFA/store"
	"github.com/MrEthical07/goMFA/store/memstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func sampleEvent(name string) Event {
	return Event{
		ID:        "id-" + name,
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
		Event:     name,
		Factor:    "totp",
		UserID:    "42",
		Origin:    "198.51.100.7",
		Success:   true,
		Detail:    map[string]string{"counter": "56666666"},
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), sampleEvent("totp_verify_success"))
	s.Emit(context.Background(), sampleEvent("totp_verify_failed"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var got Event
	require.NoError(t, json.Unmarshal(lines[1], &got))
	require.Equal(t, "totp_verify_failed", got.Event)
	require.Equal(t, "198.51.100.7", got.Origin)
}

func TestZapSinkLogsStructuredFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewZapSink(zap.New(core))
	s.Emit(context.Background(), sampleEvent("totp_verify_success"))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "totp_verify_success", entries[0].Message)
	fields := entries[0].ContextMap()
	require.Equal(t, "42", fields["user_id"])
	require.Equal(t, "totp", fields["factor"])
}

type failingAppender struct{}

func (failingAppender) AppendAuditEvent(context.Context, *store.AuditEvent) error {
	return errors.New("disk full")
}

func TestStoreSinkPersistsAndLogsFailures(t *testing.T) {
	ms := memstore.New()
	NewStoreSink(ms, nil).Emit(context.Background(), sampleEvent("backup_code_used"))

	rows, err := ms.ListAuditEvents(context.Background(), store.AuditFilter{UserID: "42"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "backup_code_used", rows[0].Event)
	require.Equal(t, "56666666", rows[0].Detail["counter"])

	core, logs := observer.New(zap.WarnLevel)
	NewStoreSink(failingAppender{}, zap.New(core)).Emit(context.Background(), sampleEvent("x"))
	require.Equal(t, 1, logs.FilterMessage("audit write failed").Len())
}

type collectSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (c *collectSink) Emit(_ context.Context, e Event) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(Config{BufferSize: 16}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), sampleEvent("e"))
	}
	d.Close()
	require.Equal(t, 10, sink.count())
	require.Equal(t, uint64(10), d.Delivered())

	d.Emit(context.Background(), sampleEvent("late"))
	require.Equal(t, 10, sink.count())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &collectSink{block: make(chan struct{})}
	d := NewDispatcher(Config{BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), sampleEvent("e"))
	}
	require.Greater(t, d.Dropped(), uint64(0))
	close(sink.block)
	d.Close()
	require.Equal(t, uint64(20), d.Dropped()+d.Delivered())
}

func TestDispatcherCloseWhileEmitting(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(Config{BufferSize: 4}, sink)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				d.Emit(context.Background(), sampleEvent("e"))
			}
		}()
	}
	time.Sleep(time.Millisecond)
	d.Close()
	wg.Wait()

	// Nothing accepted is lost and nothing blocking was dropped.
	require.Equal(t, int(d.Delivered()), sink.count())
	require.Zero(t, d.Dropped())
	require.LessOrEqual(t, sink.count(), 400)
}

func TestDispatcherBlockingEmitHonoursContext(t *testing.T) {
	sink := &collectSink{block: make(chan struct{})}
	d := NewDispatcher(Config{BufferSize: 1}, sink)
	defer func() {
		close(sink.block)
		d.Close()
	}()

	d.Emit(context.Background(), sampleEvent("held"))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	d.Emit(context.Background(), sampleEvent("buffered"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d.Emit(ctx, sampleEvent("late"))
	require.Equal(t, uint64(1), d.Dropped())
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &collectSink{}, &collectSink{}
	MultiSink{a, nil, b}.Emit(context.Background(), sampleEvent("e"))
	require.Equal(t, 1, a.count())
	require.Equal(t, 1, b.count())
}
