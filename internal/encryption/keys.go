package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
)

// ErrKeysExist is returned by Setup when a key pair is already on disk.
var ErrKeysExist = errors.New("encryption keys already exist")

// keyPair locates the snapshot key files. The public key is plaintext; the
// private key is sealed to a passphrase with age's scrypt recipient.
type keyPair struct {
	publicPath  string
	privatePath string
}

func (k keyPair) exists() bool {
	for _, p := range []string{k.publicPath, k.privatePath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// anyExists reports whether either file is present, so a half-written pair
// still blocks Setup.
func (k keyPair) anyExists() bool {
	for _, p := range []string{k.publicPath, k.privatePath} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

func (k keyPair) generate(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("empty passphrase")
	}
	if k.anyExists() {
		return ErrKeysExist
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	for _, dir := range []string{filepath.Dir(k.publicPath), filepath.Dir(k.privatePath)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	if err := k.writePrivate(identity, passphrase); err != nil {
		return err
	}
	if err := os.WriteFile(k.publicPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		os.Remove(k.privatePath)
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

func (k keyPair) writePrivate(identity *age.X25519Identity, passphrase string) error {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	// Written to a sibling file first so a failed rewrite keeps the old key.
	tmp := k.privatePath + ".tmp"
	if err := os.WriteFile(tmp, sealed.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.Rename(tmp, k.privatePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("installing private key: %w", err)
	}
	return nil
}

func (k keyPair) recipient() (age.Recipient, error) {
	data, err := os.ReadFile(k.publicPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in %s", k.publicPath)
	}
	return recipients[0], nil
}

func (k keyPair) identity(passphrase string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(k.privatePath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(data), scrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted private key: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(plain))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity in %s", k.privatePath)
}
