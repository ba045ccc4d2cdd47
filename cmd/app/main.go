package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"portfolioagent/config"
	"portfolioagent/internal/cli"
	"portfolioagent/internal/credentials"
	"portfolioagent/internal/llm"
	"portfolioagent/internal/logging"
	"portfolioagent/internal/onboarding"
	"portfolioagent/internal/server"
	"portfolioagent/internal/tui"
	"portfolioagent/version"
)

var (
	configPath        string
	tuiCPUProfilePath string
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Chat with Brad Kenstler's portfolio assistant",
	Run: func(cmd *cobra.Command, args []string) {
		if onboarding.IsFirstRun(configPath) && isInteractive() {
			fmt.Println("Welcome! Let's get you set up.")
			if err := onboarding.RunWizard(cmd.Context(), configPath); err != nil {
				if errors.Is(err, onboarding.ErrCancelled) {
					os.Exit(1)
				}
				fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
				os.Exit(1)
			}
		}

		settings := mustLoad(cmd)
		rt := mustRuntime(settings)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !isInteractive() {
			logging.Console(settings.Log.Level)
			sess, err := rt.NewSession(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if err := cli.REPL(ctx, rt.Engine, sess, os.Stdin, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		closer, err := logging.File(settings.Log.Level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer closer.Close()

		sess, err := rt.NewSession(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		var stopProfile func()
		if tuiCPUProfilePath != "" {
			cleanup, err := startTUICPUProfile(tuiCPUProfilePath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to start CPU profiling: %v\n", err)
				os.Exit(1)
			}
			stopProfile = cleanup
			defer stopProfile()
		}

		if err := tui.Start(rt.Engine, sess); err != nil {
			log.Error().Err(err).Msg("terminal UI exited")
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if stopProfile != nil {
				stopProfile()
			}
			os.Exit(1)
		}
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question...]",
	Short: "Ask a single question and stream the reply",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		settings := mustLoad(cmd)
		logging.Console(settings.Log.Level)
		rt := mustRuntime(settings)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, err := rt.NewSession(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		out, err := cli.Ask(ctx, rt.Engine, sess, strings.Join(args, " "), os.Stdout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if out.State == llm.StateError {
			os.Exit(1)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat over HTTP with streamed replies",
	Run: func(cmd *cobra.Command, args []string) {
		settings := mustLoad(cmd)
		logging.Console(settings.Log.Level)
		rt := mustRuntime(settings)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(rt.Engine, rt.Sessions(), server.OptionsFrom(settings))

		path := configPath
		if path == "" {
			p, err := config.GetConfigFile()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			path = p
		}
		go func() {
			if err := srv.WatchConfig(ctx, path, cmd.Flags()); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("config reload disabled")
			}
		}()

		if err := srv.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the tool definitions registered with the assistant",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cli.PrintTools(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [url]",
	Short: "Fetch a page the way the assistant's fetch tool does",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		settings := mustLoad(cmd)
		logging.Console(settings.Log.Level)
		if err := cli.FetchPage(cmd.Context(), settings, args[0], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run the setup wizard",
	Run: func(cmd *cobra.Command, args []string) {
		if err := onboarding.RunWizard(cmd.Context(), configPath); err != nil {
			if errors.Is(err, onboarding.ErrCancelled) {
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
			os.Exit(1)
		}
	},
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage API keys in the system keyring",
}

var secretCreateCmd = &cobra.Command{
	Use:   "create [name] [value]",
	Short: "Store a new secret value",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		value := ""
		if len(args) > 1 {
			value = args[1]
		}
		if err := cli.CreateSecret(name, value); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var secretUpdateCmd = &cobra.Command{
	Use:   "update [name] [value]",
	Short: "Replace a stored secret value",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		value := ""
		if len(args) > 1 {
			value = args[1]
		}
		if err := cli.UpdateSecret(name, value); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Remove a stored secret",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := cli.DeleteSecret(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var secretReadCmd = &cobra.Command{
	Use:   "read [name]",
	Short: "Read a secret value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		value, err := cli.ReadSecret(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(value)
	},
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the secrets the agent needs and where each one comes from",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cli.ListSecrets(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var secretStatusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Check whether a secret is set",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := cli.SecretStatus(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s version %s\n", config.AppName, version.Get())
	},
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// mustLoad merges the settings file, environment and the command's flags.
func mustLoad(cmd *cobra.Command) *config.Settings {
	settings, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cmd.Flags().Changed("model") {
		settings.Assistant.OverrideModel = true
	}
	return settings
}

func mustRuntime(settings *config.Settings) *cli.Runtime {
	rt, err := cli.NewRuntime(settings)
	if err != nil {
		var cfgErr *credentials.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, cfgErr.Error())
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return rt
}

func startTUICPUProfile(path string) (func(), error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create cpu profile file: %w", err)
	}

	if err := pprof.StartCPUProfile(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("start cpu profile: %w", err)
	}

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		pprof.StopCPUProfile()
		file.Close()
		fmt.Printf("Saved TUI CPU profile to %s\n", path)
	}, nil
}

func init() {
	// Disable the default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (defaults to ~/.config/"+config.AppName+"/config.yaml)")
	rootCmd.PersistentFlags().String("assistant-id", config.DefaultAssistantID, "Assistant to converse with")
	rootCmd.PersistentFlags().String("model", config.DefaultModel, "Model to run the assistant with (overrides the assistant's own)")
	rootCmd.PersistentFlags().Duration("budget", config.DefaultBudget, "Wall-clock limit for one reply")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.Flags().StringVar(&tuiCPUProfilePath, "tui-cpuprofile", "", "Write TUI CPU profile to file")
	serveCmd.Flags().String("listen", config.DefaultListenAddr, "Address to listen on")

	secretCmd.AddCommand(secretCreateCmd)
	secretCmd.AddCommand(secretUpdateCmd)
	secretCmd.AddCommand(secretDeleteCmd)
	secretCmd.AddCommand(secretReadCmd)
	secretCmd.AddCommand(secretListCmd)
	secretCmd.AddCommand(secretStatusCmd)

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env: %v\n", err)
	}
	logging.Console("info")

	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
