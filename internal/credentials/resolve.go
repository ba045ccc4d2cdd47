package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Source says where a secret value came from.
type Source string

const (
	SourceEnv     Source = "environment"
	SourceKeyring Source = "keyring"
	SourceMissing Source = "missing"
)

// ConfigurationError lists the secrets that could not be resolved.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s (set them in the environment, a .env file, or with `portfolio-agent secret create <name>`)",
		strings.Join(e.Missing, ", "))
}

// Lookup resolves a secret from the process environment first and the
// system keyring second.
func Lookup(name string) (string, Source, error) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v, SourceEnv, nil
	}
	v, err := GetSecret(name)
	if err == nil {
		return v, SourceKeyring, nil
	}
	if errors.Is(err, ErrNotFound) {
		return "", SourceMissing, nil
	}
	return "", SourceMissing, err
}

// Require resolves every name and fails with a *ConfigurationError naming
// all of the missing ones.
func Require(names ...string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	var missing []string
	for _, name := range names {
		v, src, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		if src == SourceMissing {
			missing = append(missing, name)
			continue
		}
		values[name] = v
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Missing: missing}
	}
	return values, nil
}
