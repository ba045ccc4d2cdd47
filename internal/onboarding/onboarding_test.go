package onboarding

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"portfolioagent/config"
	"portfolioagent/internal/credentials"
)

func TestIsFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.True(t, IsFirstRun(path))

	require.NoError(t, config.Save(path, config.Default()))
	assert.False(t, IsFirstRun(path))
}

func TestAnswersApply(t *testing.T) {
	s := config.Default()
	a := newAnswers(s)
	a.AssistantID = " asst_new "
	a.Model = "gpt-4o-mini"
	a.Listen = ""

	a.apply(s)

	assert.Equal(t, "asst_new", s.Assistant.ID)
	assert.Equal(t, "gpt-4o-mini", s.Assistant.Model)
	assert.True(t, s.Assistant.OverrideModel)
	assert.Equal(t, config.DefaultListenAddr, s.Server.Listen)
}

func TestAnswersKeepModelWithoutOverride(t *testing.T) {
	s := config.Default()
	newAnswers(s).apply(s)
	assert.False(t, s.Assistant.OverrideModel)
}

func TestStoreSecretsSkipsBlank(t *testing.T) {
	keyring.MockInit()
	a := newAnswers(config.Default())
	*a.Secrets[credentials.OpenAIKeyName] = "sk-test"
	*a.Secrets[credentials.AWSSecretKeyName] = "  "

	stored, err := a.storeSecrets()
	require.NoError(t, err)
	assert.Equal(t, []string{credentials.OpenAIKeyName}, stored)

	v, err := credentials.GetSecret(credentials.OpenAIKeyName)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v)
	ok, err := credentials.HasSecret(credentials.AWSSecretKeyName)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateAssistantID(t *testing.T) {
	assert.NoError(t, validateAssistantID("asst_FihrukJSw8GEIpMQWGKLHTAG"))
	assert.Error(t, validateAssistantID(""))
	assert.Error(t, validateAssistantID("gpt-4o"))
}

func TestApplyGradientKeepsText(t *testing.T) {
	out := applyGradient("⁘⁙⁘", lipgloss.Color("#f7c0af"), lipgloss.Color("#3ccad7"))
	assert.Equal(t, 1, strings.Count(out, "⁙"))
	assert.Empty(t, applyGradient("", lipgloss.Color("#f7c0af"), lipgloss.Color("#3ccad7")))
}

func TestBuildForm(t *testing.T) {
	keyring.MockInit()
	t.Setenv(credentials.OpenAIKeyName, "")
	require.NotNil(t, buildForm(newAnswers(config.Default())))
}
