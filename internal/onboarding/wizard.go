package onboarding

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/termenv"

	"portfolioagent/config"
	"portfolioagent/internal/assistant"
	"portfolioagent/internal/credentials"
)

const validateTimeout = 15 * time.Second

var (
	wizardPrimary   = lipgloss.AdaptiveColor{Light: "#f7c0af", Dark: "#f7c0af"}
	wizardBgLighter = lipgloss.Color("#3ccad7")
	wizardRed       = lipgloss.Color("#bf5d47")
)

// ErrCancelled is returned when the user leaves the wizard.
var ErrCancelled = errors.New("cancelled")

// answers holds what the form collected.
type answers struct {
	AssistantID string
	Model       string
	Listen      string
	Secrets     map[string]*string
}

func newAnswers(s *config.Settings) *answers {
	a := &answers{
		AssistantID: s.Assistant.ID,
		Model:       s.Assistant.Model,
		Listen:      s.Server.Listen,
		Secrets:     make(map[string]*string),
	}
	for _, name := range credentials.Known() {
		a.Secrets[name] = new(string)
	}
	return a
}

// apply copies the answers onto s. Blank answers keep the current value.
func (a *answers) apply(s *config.Settings) {
	if v := strings.TrimSpace(a.AssistantID); v != "" {
		s.Assistant.ID = v
	}
	if v := strings.TrimSpace(a.Model); v != "" {
		if v != s.Assistant.Model {
			s.Assistant.OverrideModel = true
		}
		s.Assistant.Model = v
	}
	if v := strings.TrimSpace(a.Listen); v != "" {
		s.Server.Listen = v
	}
}

// storeSecrets writes the non-blank secret answers to the keyring and
// returns the names it stored.
func (a *answers) storeSecrets() ([]string, error) {
	var stored []string
	for _, name := range credentials.Known() {
		v := strings.TrimSpace(*a.Secrets[name])
		if v == "" {
			continue
		}
		if err := credentials.SetSecret(name, v); err != nil {
			return stored, err
		}
		stored = append(stored, name)
	}
	return stored, nil
}

func validateAssistantID(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return errors.New("assistant id is required")
	}
	if !strings.HasPrefix(v, "asst_") {
		return errors.New("assistant ids start with asst_")
	}
	return nil
}

func secretField(name string, dst *string) *huh.Input {
	desc := "Leave blank to keep the current value."
	if _, src, err := credentials.Lookup(name); err == nil && src == credentials.SourceMissing {
		desc = "Not set yet."
	} else if src == credentials.SourceEnv {
		desc = "Set in the environment; a stored value is only used when the variable is unset."
	}
	return huh.NewInput().
		Title(name).
		Description(desc).
		Password(true).
		Value(dst)
}

func buildForm(a *answers) *huh.Form {
	theme := createHuhTheme()
	theme.FieldSeparator = lipgloss.NewStyle().SetString("\n")

	secrets := []huh.Field{
		huh.NewNote().
			Title("Secrets").
			Description("Values are stored in the system keyring."),
	}
	for _, name := range credentials.Known() {
		secrets = append(secrets, secretField(name, a.Secrets[name]))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("").
				Description("This setup will:\n\n 1. Point the agent at your assistant\n 2. Store the API keys it needs\n\nPress Enter to continue."),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant ID").
				Value(&a.AssistantID).
				Validate(validateAssistantID),
			huh.NewInput().
				Title("Model").
				Description("Only sent with runs when it differs from the assistant's own model.").
				Value(&a.Model),
			huh.NewInput().
				Title("Listen address").
				Description("Used by `serve`.").
				Value(&a.Listen),
		),
		huh.NewGroup(secrets...),
	).
		WithTheme(theme).
		WithWidth(80).
		WithShowHelp(false).
		WithShowErrors(true)
}

// RunWizard asks for settings and secrets, checks the assistant exists and
// writes the config file at path (the default file when empty).
func RunWizard(ctx context.Context, path string) error {
	if path == "" {
		p, err := config.GetConfigFile()
		if err != nil {
			return err
		}
		path = p
	}
	settings, err := config.Load(path, nil)
	if err != nil {
		return err
	}

	fmt.Println(header("Portfolio Agent"))
	fmt.Println()

	a := newAnswers(settings)
	if err := buildForm(a).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrCancelled
		}
		return err
	}

	a.apply(settings)
	stored, err := a.storeSecrets()
	if err != nil {
		return fmt.Errorf("store secrets: %w", err)
	}

	if err := checkAssistant(ctx, settings); err != nil {
		warn := lipgloss.NewStyle().Foreground(wizardRed)
		fmt.Println(warn.Render(fmt.Sprintf(" ! Could not verify the assistant: %v", err)))
	}

	if err := config.Save(path, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	fg := lipgloss.Color("#dddddd")
	baseStyle := lipgloss.NewStyle().Foreground(fg)
	highlightStyle := lipgloss.NewStyle().Foreground(wizardPrimary).Bold(true)

	fmt.Println()
	fmt.Println(baseStyle.Render(" ✔︎ Settings saved to " + path))
	if len(stored) > 0 {
		fmt.Println(baseStyle.Render(" ✔︎ Stored " + strings.Join(stored, ", ") + " in the system keyring"))
	}
	fmt.Println()
	fmt.Print(baseStyle.Render(" Run '"))
	fmt.Print(highlightStyle.Render(config.AppName))
	fmt.Print(baseStyle.Render("' to chat or '"))
	fmt.Print(highlightStyle.Render(config.AppName + " serve"))
	fmt.Print(baseStyle.Render("' to start the web API."))
	fmt.Println()
	fmt.Println()
	return nil
}

// checkAssistant looks the assistant up with a spinner. It is skipped when
// no API key is available yet.
func checkAssistant(ctx context.Context, settings *config.Settings) error {
	key, src, err := credentials.Lookup(credentials.OpenAIKeyName)
	if err != nil {
		return err
	}
	if src == credentials.SourceMissing {
		return fmt.Errorf("%s is not set", credentials.OpenAIKeyName)
	}

	peer := assistant.NewOpenAI(key, assistant.WithBaseURL(settings.Assistant.BaseURL))
	var info assistant.Assistant
	var lookupErr error

	spinnerStyle := lipgloss.NewStyle().MarginLeft(2).Foreground(lipgloss.Color("#f7c0af"))
	err = spinner.New().
		Title("Checking assistant " + settings.Assistant.ID + "...").
		Style(spinnerStyle).
		Action(func() {
			cctx, cancel := context.WithTimeout(ctx, validateTimeout)
			defer cancel()
			info, lookupErr = peer.RetrieveAssistant(cctx, settings.Assistant.ID)
		}).
		Run()
	if err != nil {
		return ErrCancelled
	}
	if lookupErr != nil {
		return lookupErr
	}

	name := info.Name
	if name == "" {
		name = info.ID
	}
	fmt.Println(lipgloss.NewStyle().Foreground(lipgloss.Color("#87bf47")).Render(" ✔︎ Found assistant " + name + " (" + info.Model + ")"))
	return nil
}

func header(text string) string {
	label := lipgloss.NewStyle().Foreground(wizardPrimary).Bold(true).MarginLeft(1).Render(text)
	line := " " + strings.Repeat("⁘⁙", 24) + "⁘"
	return lipgloss.JoinHorizontal(lipgloss.Top, label, applyGradient(line, wizardPrimary, wizardBgLighter))
}

// applyGradient applies a gradient from one color to another across the text.
// Falls back to solid color if the terminal doesn't support TrueColor.
func applyGradient(text string, from, to color.Color) string {
	rs := []rune(text)
	n := len(rs)
	if n == 0 {
		return ""
	}

	c1, _ := colorful.MakeColor(from)
	if termenv.ColorProfile() != termenv.TrueColor {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(c1.Hex())).Bold(true).Render(text)
	}

	c2, _ := colorful.MakeColor(to)
	var out strings.Builder
	for i, r := range rs {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		c := c1.BlendLab(c2, t)
		out.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(c.Hex())).Bold(true).Render(string(r)))
	}
	return out.String()
}

func createHuhTheme() *huh.Theme {
	primary := lipgloss.Color("#f7c0af")
	fg := lipgloss.Color("#dddddd")
	fgMuted := lipgloss.Color("#7f7f7f")
	fgSubtle := lipgloss.Color("#888888")
	bg := lipgloss.Color("#101012")
	errColor := lipgloss.Color("#bf5d47")

	theme := huh.ThemeBase16()

	base := lipgloss.NewStyle().Foreground(fg)

	theme.Focused.Base = base.MarginLeft(1)
	theme.Focused.Title = base.Foreground(primary).Bold(true)
	theme.Focused.Description = base.Foreground(fg)
	theme.Focused.ErrorIndicator = base.Foreground(errColor)
	theme.Focused.ErrorMessage = base.Foreground(errColor)

	theme.Focused.FocusedButton = base.Background(primary).Foreground(bg).Bold(true).Padding(0, 2)
	theme.Focused.BlurredButton = base.Foreground(fgMuted).Padding(0).MarginLeft(1)

	theme.Focused.NoteTitle = base.Foreground(primary).Bold(true)
	theme.Focused.Card = base.Padding(0)

	theme.Focused.TextInput.Cursor = base.Foreground(primary)
	theme.Focused.TextInput.Placeholder = base.Foreground(fgSubtle)
	theme.Focused.TextInput.Prompt = base.Foreground(primary)

	theme.Blurred.Base = base
	theme.Blurred.Title = base.Foreground(fgMuted)
	theme.Blurred.Description = base.Foreground(fg)
	theme.Blurred.NoteTitle = base.Foreground(fgMuted)
	theme.Blurred.TextInput.Placeholder = base.Foreground(fgSubtle)
	theme.Blurred.TextInput.Prompt = base.Foreground(fgMuted)

	theme.Form = base
	theme.Group = base.Padding(0).MarginBottom(0)

	return theme
}
