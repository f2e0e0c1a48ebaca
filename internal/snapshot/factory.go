package snapshot

import (
	"context"
	"fmt"

	"cr-go/internal/config"
	"cr-go/internal/cr"
)

// NewStoreFromConfig creates the SnapshotStore named by cfg.Type.
func NewStoreFromConfig(ctx context.Context, cfg config.SnapshotConfig, clock cr.Clock) (cr.SnapshotStore, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryStore(clock), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem snapshot store requires root to be set")
		}
		return NewFileSystemStore(cfg.Root)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown snapshot store type: %s", cfg.Type)
	}
}
