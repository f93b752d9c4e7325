package goMFA

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/MrEthical07/goMFA/hashing"
	"github.com/MrEthical07/goMFA/notify"
	"github.com/MrEthical07/goMFA/store"
)

// Clock supplies the current time. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Dependencies groups the collaborators the engine consumes. Zero fields
// fall back to defaults at Build: the wall clock, crypto/rand, a hasher from
// Config.Hashing and a no-op audit sink. Store is required.
type Dependencies struct {
	Store     store.Store
	Clock     Clock
	Random    io.Reader
	Hasher    hashing.Hasher
	Notifiers *notify.Registry
	AuditSink AuditSink
}

func (d *Dependencies) fill() {
	if d.Clock == nil {
		d.Clock = SystemClock
	}
	if d.Random == nil {
		d.Random = rand.Reader
	}
	if d.Notifiers == nil {
		d.Notifiers = notify.NewRegistry()
	}
}
