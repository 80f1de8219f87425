// Package integration parses the JSON config column of stored DMS integrations.
package integration

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultEnvironment applies when a stored config names none.
const DefaultEnvironment = "production"

var (
	// ErrEmptyConfig is returned for a NULL or empty config column.
	ErrEmptyConfig = errors.New("integration config is empty")
	// ErrMissingCredentials is returned when a provider's required credentials are absent.
	ErrMissingCredentials = errors.New("integration credentials are incomplete")
)

// Config is the provider config stored with an integration. Secret fields may
// hold ciphertext; Decrypt resolves them.
type Config struct {
	APIKey      string `json:"apiKey"`
	BaseURL     string `json:"baseUrl" validate:"omitempty,url"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DealerCode  string `json:"dealerCode"`
	ProxyURL    string `json:"proxyUrl" validate:"omitempty,url"`
	Environment string `json:"environment" validate:"oneof=sandbox production"`
}

// Decrypter turns a stored secret into plaintext. Plaintext input is returned unchanged.
type Decrypter interface {
	Decrypt(value string) (string, error)
}

var validate = validator.New()

// Parse decodes and validates a stored config for provider.
func Parse(provider string, raw []byte) (*Config, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, ErrEmptyConfig
	}

	// some rows hold the config as a JSON string
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return nil, fmt.Errorf("decode %s config: %w", provider, err)
		}
		trimmed = inner
	}

	var cfg Config
	if err := json.Unmarshal([]byte(trimmed), &cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", provider, err)
	}
	if cfg.Environment == "" {
		cfg.Environment = DefaultEnvironment
	}

	if err := Validate(provider, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the credentials the provider requires.
func Validate(provider string, cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid %s config: %w", provider, err)
	}

	var missing []string
	switch provider {
	case "autovance":
		if cfg.APIKey == "" {
			missing = append(missing, "apiKey")
		}
	case "dealertrack":
		if cfg.Username == "" {
			missing = append(missing, "username")
		}
		if cfg.Password == "" {
			missing = append(missing, "password")
		}
		if cfg.DealerCode == "" {
			missing = append(missing, "dealerCode")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s needs %s", ErrMissingCredentials, provider, strings.Join(missing, ", "))
	}
	return nil
}

// Decrypt resolves the secret fields in place.
func (c *Config) Decrypt(d Decrypter) error {
	for name, field := range map[string]*string{
		"apiKey":   &c.APIKey,
		"password": &c.Password,
	} {
		if *field == "" {
			continue
		}
		plain, err := d.Decrypt(*field)
		if err != nil {
			return fmt.Errorf("decrypt %s: %w", name, err)
		}
		*field = plain
	}
	return nil
}
