package cli

import (
	"context"
	"fmt"

	"portfolioagent/config"
	"portfolioagent/internal/assistant"
	"portfolioagent/internal/credentials"
	"portfolioagent/internal/fetcher"
	"portfolioagent/internal/llm"
	"portfolioagent/internal/notify"
	"portfolioagent/internal/session"
	"portfolioagent/internal/tools"
	"portfolioagent/version"
)

// Runtime is everything a conversation needs, built from settings and
// secrets.
type Runtime struct {
	Settings   *config.Settings
	Peer       assistant.Peer
	Dispatcher *tools.Dispatcher
	Engine     *llm.Engine
}

// NewRuntime resolves the secrets and wires the assistant, the tools and
// the engine. Missing secrets fail with a *credentials.ConfigurationError.
func NewRuntime(settings *config.Settings) (*Runtime, error) {
	secrets, err := credentials.Require(credentials.OpenAIKeyName, credentials.AWSAccessKeyName, credentials.AWSSecretKeyName)
	if err != nil {
		return nil, err
	}

	opts := []assistant.OpenAIOption{assistant.WithBaseURL(settings.Assistant.BaseURL)}
	if settings.Assistant.OverrideModel {
		opts = append(opts, assistant.WithModel(settings.Assistant.Model))
	}
	peer := assistant.NewOpenAI(secrets[credentials.OpenAIKeyName], opts...)

	return newRuntime(settings, peer, secrets[credentials.AWSAccessKeyName], secrets[credentials.AWSSecretKeyName]), nil
}

func newRuntime(settings *config.Settings, peer assistant.Peer, accessKeyID, secretAccessKey string) *Runtime {
	f := fetcher.New(
		fetcher.WithTimeout(settings.Fetch.Timeout),
		fetcher.WithUserAgent(userAgent(settings)),
	)
	sender := notify.New(accessKeyID, secretAccessKey,
		notify.WithEndpoint(settings.Notify.Endpoint),
		notify.WithScope(settings.Notify.Service, settings.Notify.Region),
	)
	dispatcher := tools.NewDispatcher(f, sender)

	return &Runtime{
		Settings:   settings,
		Peer:       peer,
		Dispatcher: dispatcher,
		Engine: llm.NewEngine(peer, dispatcher, settings.Assistant.ID,
			llm.WithBudget(settings.Orchestrator.Budget)),
	}
}

// NewSession opens a session against the configured assistant.
func (r *Runtime) NewSession(ctx context.Context) (*session.Session, error) {
	sess := session.New(r.Peer, r.Settings.Assistant.ID)
	if err := sess.Open(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// Sessions returns a registry bound to the runtime's assistant.
func (r *Runtime) Sessions() *session.Registry {
	return session.NewRegistry(r.Peer, r.Settings.Assistant.ID,
		session.WithIdleTTL(r.Settings.Server.SessionTTL))
}

func userAgent(settings *config.Settings) string {
	if settings.Fetch.UserAgent != "" {
		return settings.Fetch.UserAgent
	}
	return fmt.Sprintf("%s/%s", config.AppName, version.Get())
}
