package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cr-go/internal/cr"
	"cr-go/internal/encryption"
	"cr-go/internal/snapshot"
)

// ErrNoEncryption is returned for key operations when encryption is disabled.
var ErrNoEncryption = errors.New("snapshot encryption is not enabled")

// ExportSnapshot copies the database with VACUUM INTO, seals it when
// encryption is enabled and stores it in the snapshot store.
func (a *CRApp) ExportSnapshot(ctx context.Context) (*cr.SnapshotInfo, error) {
	if a.encryptor != nil && !a.encryptor.IsConfigured() {
		return nil, fmt.Errorf("encryption enabled but no keys found: run 'cr keygen' first")
	}

	tmpDir, err := os.MkdirTemp("", "cr-snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir for snapshot: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	src := filepath.Join(tmpDir, "cr.db")
	if err := a.db.BackupTo(src); err != nil {
		return nil, err
	}

	sealed := a.encryptor != nil
	if sealed {
		dst := src + ".age"
		if err := sealFile(a.encryptor, src, dst); err != nil {
			return nil, err
		}
		src = dst
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}

	now := a.clock.Now()
	name := snapshot.Name(now, sealed)
	if err := a.snapshots.Put(ctx, name, f, info.Size()); err != nil {
		return nil, fmt.Errorf("storing snapshot: %w", err)
	}
	a.logger.Info("snapshot exported", "name", name, "size", info.Size(), "sealed", sealed)
	return &cr.SnapshotInfo{Name: name, Size: info.Size(), ModifiedAt: now}, nil
}

func sealFile(enc cr.Encryptor, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening database copy: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating sealed snapshot: %w", err)
	}
	if err := enc.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	return out.Close()
}

// ListSnapshots returns the stored snapshots, oldest first.
func (a *CRApp) ListSnapshots(ctx context.Context) ([]cr.SnapshotInfo, error) {
	return a.snapshots.List(ctx)
}

// FetchSnapshot writes the named snapshot, or the newest one when name is
// empty, to dest as a plain database file. Sealed snapshots are opened with
// passphrase. dest must not exist yet.
func (a *CRApp) FetchSnapshot(ctx context.Context, name, dest, passphrase string) (string, error) {
	if name == "" {
		infos, err := a.snapshots.List(ctx)
		if err != nil {
			return "", fmt.Errorf("listing snapshots: %w", err)
		}
		latest := snapshot.Latest(infos)
		if latest == nil {
			return "", fmt.Errorf("no snapshots stored: %w", snapshot.ErrNotFound)
		}
		name = latest.Name
	}
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("destination %s already exists", dest)
	}

	var dc cr.DecryptionContext
	if snapshot.IsSealed(name) {
		if a.encryptor == nil {
			return "", fmt.Errorf("snapshot %s is sealed: %w", name, ErrNoEncryption)
		}
		var err error
		if dc, err = a.encryptor.Unlock(passphrase); err != nil {
			return "", fmt.Errorf("unlocking private key: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".cr-fetch-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	var w io.Writer = tmp
	var pw *io.PipeWriter
	done := make(chan error, 1)
	if dc != nil {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		w = pw
		go func() {
			err := dc.Decrypt(pr, tmp)
			pr.CloseWithError(err)
			done <- err
		}()
	}

	getErr := a.snapshots.Get(ctx, name, w)
	if pw != nil {
		pw.CloseWithError(getErr)
		if err := <-done; err != nil && getErr == nil {
			getErr = fmt.Errorf("decrypting snapshot: %w", err)
		}
	}
	if cerr := tmp.Close(); cerr != nil && getErr == nil {
		getErr = cerr
	}
	if getErr != nil {
		return "", fmt.Errorf("fetching snapshot %s: %w", name, getErr)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("installing snapshot: %w", err)
	}
	ok = true
	a.logger.Info("snapshot fetched", "name", name, "dest", dest)
	return name, nil
}

// SetupKeys generates the snapshot key pair.
func (a *CRApp) SetupKeys(passphrase string) error {
	if a.encryptor == nil {
		return ErrNoEncryption
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up keys: %w", err)
	}
	return nil
}

// ChangePassphrase reseals the private key. Only age keys support it.
func (a *CRApp) ChangePassphrase(oldPassphrase, newPassphrase string) error {
	age, ok := a.encryptor.(*encryption.AgeEncryptor)
	if !ok {
		return fmt.Errorf("changing passphrase: %w", ErrNoEncryption)
	}
	return age.ChangePassphrase(oldPassphrase, newPassphrase)
}

// PublicKey returns the recipient snapshots are sealed to.
func (a *CRApp) PublicKey() (string, error) {
	age, ok := a.encryptor.(*encryption.AgeEncryptor)
	if !ok {
		return "", ErrNoEncryption
	}
	return age.PublicKey()
}

// Encrypted reports whether snapshots are sealed, so fetching one needs
// the key passphrase.
func (a *CRApp) Encrypted() bool {
	return a.encryptor != nil
}
