package testutil

import (
	"context"
	"testing"
	"time"

	"cr-go/internal/cr"
	"cr-go/internal/database"
	"cr-go/internal/lock"
)

// TestService bundles a CRService with the collaborators tests inspect.
type TestService struct {
	*cr.CRService
	DB     *database.SQLiteDatabase
	Perms  *StubPermissions
	Locker *lock.Manager
	Clock  *StubClock
	Logger *RecordingLogger
}

// NewTestService creates a CRService on a fresh in-memory database with
// permissive permissions, a fixed clock and a short lock timeout.
func NewTestService(t *testing.T, opts ...cr.Option) *TestService {
	t.Helper()

	db := NewTestDatabase(t)
	perms := NewStubPermissions()
	logger := NewRecordingLogger()
	locker := lock.NewManager(time.Second, logger, nil)
	clock := FixedClock()

	opts = append([]cr.Option{cr.WithLockTimeout(time.Second)}, opts...)
	return &TestService{
		CRService: cr.NewCRService(db, perms, locker, logger, clock, opts...),
		DB:        db,
		Perms:     perms,
		Locker:    locker,
		Clock:     clock,
		Logger:    logger,
	}
}

// MustCreateNode creates a root node or fails the test.
func (s *TestService) MustCreateNode(t *testing.T, name string) *cr.Node {
	t.Helper()
	n, err := s.CreateNode(context.Background(), name, false)
	if err != nil {
		t.Fatalf("CreateNode(%q) failed: %v", name, err)
	}
	return n
}

// MustCreateChannel creates a channel below master or fails the test.
func (s *TestService) MustCreateChannel(t *testing.T, master *cr.Node, name string) *cr.Node {
	t.Helper()
	n, err := s.CreateChannel(context.Background(), master.ID, name)
	if err != nil {
		t.Fatalf("CreateChannel(%q) failed: %v", name, err)
	}
	return n
}

// MustCreate creates an object as the "tester" principal or fails the test.
func (s *TestService) MustCreate(t *testing.T, req cr.CreateRequest) *cr.Object {
	t.Helper()
	obj, err := s.CreateObject(context.Background(), "tester", req)
	if err != nil {
		t.Fatalf("CreateObject(%q) failed: %v", req.Name, err)
	}
	return obj
}
