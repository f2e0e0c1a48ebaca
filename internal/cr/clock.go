package cr

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so wastebin timestamps are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the wall clock in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator produces opaque unique tokens (operation ids, lock tokens).
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }
