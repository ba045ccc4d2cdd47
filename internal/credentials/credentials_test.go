package credentials

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyringLifecycle(t *testing.T) {
	keyring.MockInit()

	exists, err := HasSecret(OpenAIKeyName)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, SetSecret(OpenAIKeyName, "  sk-test  "))
	v, err := GetSecret(OpenAIKeyName)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v)

	require.NoError(t, DeleteSecret(OpenAIKeyName))
	_, err = GetSecret(OpenAIKeyName)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, DeleteSecret(OpenAIKeyName), ErrNotFound)
}

func TestSetSecretRejectsEmpty(t *testing.T) {
	keyring.MockInit()
	require.Error(t, SetSecret(AWSAccessKeyName, "   "))
}

func TestLookupPrefersEnvironment(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, SetSecret(AWSAccessKeyName, "from-keyring"))

	t.Setenv(AWSAccessKeyName, "from-env")
	v, src, err := Lookup(AWSAccessKeyName)
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)
	assert.Equal(t, SourceEnv, src)

	t.Setenv(AWSAccessKeyName, "")
	v, src, err = Lookup(AWSAccessKeyName)
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", v)
	assert.Equal(t, SourceKeyring, src)
}

func TestRequireReportsAllMissing(t *testing.T) {
	keyring.MockInit()
	t.Setenv(OpenAIKeyName, "sk-live")
	t.Setenv(AWSAccessKeyName, "")
	t.Setenv(AWSSecretKeyName, "")

	_, err := Require(Known()...)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, []string{AWSAccessKeyName, AWSSecretKeyName}, cfgErr.Missing)
	assert.Contains(t, err.Error(), "AWS_ACCESS, AWS_SECRET")

	t.Setenv(AWSAccessKeyName, "AKID")
	t.Setenv(AWSSecretKeyName, "secret")
	values, err := Require(Known()...)
	require.NoError(t, err)
	assert.Equal(t, "sk-live", values[OpenAIKeyName])
	assert.Equal(t, "AKID", values[AWSAccessKeyName])
}

func TestIsKnown(t *testing.T) {
	assert.True(t, IsKnown("OPENAI"))
	assert.False(t, IsKnown("OPPER_API_KEY"))
}
