package encryption

import (
	"fmt"

	"cr-go/internal/config"
	"cr-go/internal/cr"
)

// NewEncryptorFromConfig returns the configured encryptor, or nil when
// snapshot encryption is disabled.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (cr.Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
