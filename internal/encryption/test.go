package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"cr-go/internal/cr"
)

// snapHeader marks TestEncryptor output so it never equals the plaintext.
var snapHeader = []byte("CRSNAP\x00\x01")

// ErrWrongPassphrase is returned by TestEncryptor.Unlock when the
// passphrase differs from the one given to Setup.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// TestEncryptor prepends a fixed header on Encrypt and strips it on
// Decrypt. It remembers the Setup passphrase so unlock failures can be
// exercised without age.
type TestEncryptor struct {
	passphrase string
	configured bool
}

var _ cr.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	if e.configured {
		return ErrKeysExist
	}
	e.passphrase = passphrase
	e.configured = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(snapHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

// Unlock accepts any passphrase until Setup has been called.
func (e *TestEncryptor) Unlock(passphrase string) (cr.DecryptionContext, error) {
	if e.configured && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return testDecryptor{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

type testDecryptor struct{}

func (testDecryptor) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(snapHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, snapHeader) {
		return fmt.Errorf("not a test-sealed snapshot")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
