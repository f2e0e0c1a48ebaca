package encryption

import (
	"bytes"
	"errors"
	"testing"

	"cr-go/internal/config"
)

func TestTestEncryptor(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		e := NewTestEncryptor()
		if err := e.Setup("pass"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}

		var sealed bytes.Buffer
		if err := e.Encrypt(bytes.NewReader([]byte("payload")), &sealed); err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if bytes.Equal(sealed.Bytes(), []byte("payload")) {
			t.Error("sealed output equals plaintext")
		}

		dc, err := e.Unlock("pass")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		var plain bytes.Buffer
		if err := dc.Decrypt(&sealed, &plain); err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if plain.String() != "payload" {
			t.Errorf("Decrypt() = %q, want %q", plain.String(), "payload")
		}
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		t.Parallel()
		e := NewTestEncryptor()
		_ = e.Setup("pass")
		if _, err := e.Unlock("nope"); !errors.Is(err, ErrWrongPassphrase) {
			t.Errorf("Unlock() error = %v, want ErrWrongPassphrase", err)
		}
		if err := e.Setup("again"); !errors.Is(err, ErrKeysExist) {
			t.Errorf("second Setup() error = %v, want ErrKeysExist", err)
		}
	})

	t.Run("rejects unsealed input", func(t *testing.T) {
		t.Parallel()
		dc, _ := NewTestEncryptor().Unlock("")
		var out bytes.Buffer
		if err := dc.Decrypt(bytes.NewReader([]byte("plain text here")), &out); err == nil {
			t.Error("Decrypt() of plaintext error = nil")
		}
		if err := dc.Decrypt(bytes.NewReader([]byte("CR")), &out); err == nil {
			t.Error("Decrypt() of short input error = nil")
		}
	})
}

func TestNewEncryptorFromConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		want    string
		wantErr bool
	}{
		{"disabled", config.EncryptionConfig{}, "", false},
		{"default is age", config.EncryptionConfig{Enabled: true}, "age", false},
		{"age", config.EncryptionConfig{Enabled: true, Type: "age"}, "age", false},
		{"test", config.EncryptionConfig{Enabled: true, Type: "test"}, "test", false},
		{"unknown", config.EncryptionConfig{Enabled: true, Type: "rot13"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			enc, err := NewEncryptorFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			var got string
			switch enc.(type) {
			case *AgeEncryptor:
				got = "age"
			case *TestEncryptor:
				got = "test"
			}
			if got != tt.want {
				t.Errorf("NewEncryptorFromConfig() = %T, want %s", enc, tt.want)
			}
		})
	}
}
