package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"cr-go/internal/cr"
)

// MemoryStore keeps snapshots in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memBlob
	clock cr.Clock
}

type memBlob struct {
	data []byte
	info cr.SnapshotInfo
}

// NewMemoryStore creates an empty store; a nil clock uses the wall clock.
func NewMemoryStore(clock cr.Clock) *MemoryStore {
	if clock == nil {
		clock = cr.RealClock{}
	}
	return &MemoryStore{blobs: make(map[string]memBlob), clock: clock}
}

func (m *MemoryStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := validName(name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = memBlob{
		data: data,
		info: cr.SnapshotInfo{Name: name, Size: size, ModifiedAt: m.clock.Now()},
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, name string, w io.Writer) error {
	m.mu.RLock()
	b, ok := m.blobs[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if _, err := io.Copy(w, bytes.NewReader(b.data)); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]cr.SnapshotInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]cr.SnapshotInfo, 0, len(m.blobs))
	for _, b := range m.blobs {
		infos = append(infos, b.info)
	}
	sortInfos(infos)
	return infos, nil
}

func (m *MemoryStore) ValidateSetup(ctx context.Context) error {
	return nil
}

var _ cr.SnapshotStore = (*MemoryStore)(nil)
