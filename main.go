package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/termqapp/termq/internal/core/config"
	"github.com/termqapp/termq/internal/core/styles"
	"github.com/termqapp/termq/internal/mqtt/session"
	"github.com/termqapp/termq/internal/tui"
	"github.com/termqapp/termq/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, build() populates
	// these from runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "termq", "termq.yml")
}

func defaultLogPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "termq", "termq.log")
}

func main() {
	ctx := context.Background()

	var (
		logCloser func()
		cfg       *config.Config
	)

	var (
		flagLogLevel string
		flagLogFile  string
		flagConfig   string
		flagBroker   string
		flagTheme    string
		flagClientID string
	)

	app := &cli.Command{
		Name:      "termq",
		Usage:     "Explore MQTT brokers from the terminal",
		UsageText: "termq [global options]",
		Description: `Termq connects to an MQTT broker and gives you a live view of topics,
retained values and message history, with subscribe and publish built in.

Connection, subscriptions and theming come from the config file; the flags
below override it for one run.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("TERMQ_LOG_LEVEL"),
				Value:       "info",
				Destination: &flagLogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (the TUI owns the terminal, so logs always go to a file)",
				Sources:     cli.EnvVars("TERMQ_LOG_FILE"),
				Value:       defaultLogPath(),
				Destination: &flagLogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("TERMQ_CONFIG"),
				Value:       defaultConfigPath(),
				Destination: &flagConfig,
			},
			&cli.StringFlag{
				Name:        "broker",
				Aliases:     []string{"b"},
				Usage:       "broker URL (mqtt://, mqtts://, ws:// or wss://), overrides config",
				Sources:     cli.EnvVars("TERMQ_BROKER"),
				Destination: &flagBroker,
			},
			&cli.StringFlag{
				Name:        "client-id",
				Usage:       "MQTT client identifier, overrides config",
				Sources:     cli.EnvVars("TERMQ_CLIENT_ID"),
				Destination: &flagClientID,
			},
			&cli.StringFlag{
				Name:        "theme",
				Usage:       "color theme, overrides config",
				Sources:     cli.EnvVars("TERMQ_THEME"),
				Destination: &flagTheme,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, closer, err := logutils.New(flagLogLevel, flagLogFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer

			cfg, err = config.Load(flagConfig)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}

			if flagBroker != "" {
				cfg.Broker.URL = flagBroker
			}
			if flagClientID != "" {
				cfg.Broker.ClientID = flagClientID
			}
			if flagTheme != "" {
				cfg.TUI.Theme = flagTheme
			}
			if err := cfg.Validate(); err != nil {
				return ctx, fmt.Errorf("invalid config: %w", err)
			}

			// Validation ensures the theme name is valid.
			palette, _ := styles.GetPalette(cfg.TUI.Theme)
			styles.SetTheme(palette)

			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("unknown command %q. Run 'termq --help' for usage", c.Args().First())
			}

			sess := session.New(session.Options{
				HistoryLimit:  cfg.Session.HistoryLimit,
				RetryInterval: cfg.Session.RetryInterval.Std(),
				MaxRetries:    cfg.Session.MaxRetries,
				BackoffBase:   cfg.Session.BackoffBase.Std(),
				BackoffCap:    cfg.Session.BackoffCap.Std(),
				StableAfter:   cfg.Session.StableAfter.Std(),
				Logger:        log.Logger,
			})
			defer sess.Close()

			model := tui.New(sess, cfg, log.Logger)
			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

			log.Info().Str("broker", cfg.Broker.URL).Str("version", build()).Msg("starting termq")
			_, err := program.Run()
			return err
		},
	}

	exitCode := 0
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Println()
		fmt.Println(err.Error())
		exitCode = 1
	}

	os.Exit(exitCode)
}
