package cr

import (
	"context"
	"io"
	"time"
)

// SnapshotStore keeps exported copies of the repository metadata database.
// Names are flat keys such as "20240115T103000Z.db.age".
type SnapshotStore interface {
	// Put stores size bytes read from r under name, replacing any previous snapshot.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get writes the snapshot stored under name to w.
	Get(ctx context.Context, name string, w io.Writer) error

	// List returns the stored snapshots, oldest first.
	List(ctx context.Context) ([]SnapshotInfo, error)

	// ValidateSetup verifies the store is reachable.
	ValidateSetup(ctx context.Context) error
}

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	Name       string
	Size       int64
	ModifiedAt time.Time
}

// Encryptor seals snapshots. Encryption needs only the public key; reading
// a snapshot back requires unlocking the private key with a passphrase.
type Encryptor interface {
	// Setup generates the key pair and protects the private key with passphrase.
	Setup(passphrase string) error

	Encrypt(r io.Reader, w io.Writer) error

	// Unlock returns a DecryptionContext, or an error for a wrong passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
