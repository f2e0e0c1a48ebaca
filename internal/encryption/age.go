// Package encryption seals repository snapshots. AgeEncryptor uses age with
// an X25519 key pair; TestEncryptor is a reversible stand-in for tests.
package encryption

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
	"filippo.io/age/armor"

	"cr-go/internal/config"
	"cr-go/internal/cr"
)

// AgeEncryptor implements cr.Encryptor. Encrypting needs only the public
// key, so snapshots can be written without a passphrase.
type AgeEncryptor struct {
	keys  keyPair
	armor bool
}

var _ cr.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates an AgeEncryptor from configuration. No files are
// touched until Setup or Encrypt.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		keys:  keyPair{publicPath: cfg.PublicKeyPath, privatePath: cfg.PrivateKeyPath},
		armor: cfg.Armor,
	}
}

// Setup generates the key pair. It fails with ErrKeysExist rather than
// replacing keys that earlier snapshots were sealed to.
func (e *AgeEncryptor) Setup(passphrase string) error {
	return e.keys.generate(passphrase)
}

// ChangePassphrase reseals the private key under a new passphrase. The
// key itself is unchanged, so existing snapshots stay readable.
func (e *AgeEncryptor) ChangePassphrase(oldPassphrase, newPassphrase string) error {
	if newPassphrase == "" {
		return fmt.Errorf("empty passphrase")
	}
	identity, err := e.keys.identity(oldPassphrase)
	if err != nil {
		return err
	}
	return e.keys.writePrivate(identity, newPassphrase)
}

// Encrypt seals r to the stored public key, PEM-armored when configured.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.keys.recipient()
	if err != nil {
		return fmt.Errorf("loading public key: %w", err)
	}

	out := w
	var armored io.WriteCloser
	if e.armor {
		armored = armor.NewWriter(w)
		out = armored
	}

	enc, err := age.Encrypt(out, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	if armored != nil {
		if err := armored.Close(); err != nil {
			return fmt.Errorf("finalizing armor: %w", err)
		}
	}
	return nil
}

// Unlock decrypts the private key with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (cr.DecryptionContext, error) {
	identity, err := e.keys.identity(passphrase)
	if err != nil {
		return nil, err
	}
	return &AgeDecryptionContext{identity: identity}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	return e.keys.exists()
}

// PublicKey returns the recipient string snapshots are sealed to.
func (e *AgeEncryptor) PublicKey() (string, error) {
	r, err := e.keys.recipient()
	if err != nil {
		return "", err
	}
	if x, ok := r.(*age.X25519Recipient); ok {
		return x.String(), nil
	}
	return "", fmt.Errorf("public key is not an X25519 recipient")
}

// AgeDecryptionContext holds an unlocked identity.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ cr.DecryptionContext = (*AgeDecryptionContext)(nil)

// Decrypt accepts both binary and armored ciphertext.
func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if head, _ := br.Peek(len(armor.Header)); bytes.Equal(head, []byte(armor.Header)) {
		src = armor.NewReader(br)
	}

	dec, err := age.Decrypt(src, c.identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, dec); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
