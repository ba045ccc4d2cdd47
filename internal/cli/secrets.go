package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"portfolioagent/internal/credentials"
)

// stdout is where command output goes; tests swap it.
var stdout io.Writer = os.Stdout

func checkName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("secret name cannot be empty")
	}
	if !credentials.IsKnown(name) {
		return "", fmt.Errorf("unknown secret %q (expected one of %s)", name, strings.Join(credentials.Known(), ", "))
	}
	return name, nil
}

func CreateSecret(name, value string) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	exists, err := credentials.HasSecret(name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("a secret named %q is already stored; use 'update' to replace it", name)
	}

	secret, err := ensureSecretInput(value, fmt.Sprintf("Enter new value for %s: ", name))
	if err != nil {
		return err
	}
	if err := credentials.SetSecret(name, secret); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Stored secret %q in the system keyring\n", name)
	return nil
}

// UpdateSecret replaces the existing secret in the system keyring.
func UpdateSecret(name, value string) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	exists, err := credentials.HasSecret(name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("no secret named %q is stored; use 'create' to add one", name)
	}

	secret, err := ensureSecretInput(value, fmt.Sprintf("Enter replacement value for %s: ", name))
	if err != nil {
		return err
	}
	if err := credentials.SetSecret(name, secret); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Updated secret %q in the system keyring\n", name)
	return nil
}

func DeleteSecret(name string) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	if err := credentials.DeleteSecret(name); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return fmt.Errorf("no secret named %q is stored", name)
		}
		return err
	}

	fmt.Fprintf(stdout, "Removed secret %q from the system keyring\n", name)
	return nil
}

// SecretStatus reports where the named secret would be read from.
func SecretStatus(name string) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	_, src, err := credentials.Lookup(name)
	if err != nil {
		return err
	}
	switch src {
	case credentials.SourceEnv:
		fmt.Fprintf(stdout, "Secret %q is set in the environment\n", name)
	case credentials.SourceKeyring:
		fmt.Fprintf(stdout, "Secret %q is stored in the system keyring\n", name)
	default:
		fmt.Fprintf(stdout, "Secret %q is not set\n", name)
	}
	return nil
}

// ListSecrets prints every secret the agent reads and where it comes from.
func ListSecrets() error {
	for _, name := range credentials.Known() {
		_, src, err := credentials.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%-12s %s\n", name, src)
	}
	return nil
}

func ReadSecret(name string) (string, error) {
	name, err := checkName(name)
	if err != nil {
		return "", err
	}
	secret, err := credentials.GetSecret(name)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return "", fmt.Errorf("no secret named %q is stored", name)
		}
		return "", err
	}
	return secret, nil
}

func ensureSecretInput(raw, prompt string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		return trimmed, nil
	}

	fmt.Fprint(os.Stdout, prompt)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stdout)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}

	trimmed = strings.TrimSpace(string(bytes))
	if trimmed == "" {
		return "", fmt.Errorf("secret value cannot be empty")
	}

	return trimmed, nil
}
