package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"relaybot/internal/config"
	"relaybot/internal/registry"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	envFile    string
)

func main() {
	logger = newLogger(os.Stderr, config.GeneralConfig{LogLevel: "info", LogFormat: "text"})

	root := &cobra.Command{
		Use:   "relaybot",
		Short: "relaybot: Discord message relay",
		Long:  "relaybot listens to selected Discord channels and forwards each message to the configured sinks.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.relaybot/config.json)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading config (default: ./.env when present)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(channelsCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnvFile loads path into the process environment. With no path, ./.env
// is loaded when it exists. Variables already set are never overridden.
func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

// newLogger builds the process logger from the general config section.
func newLogger(w io.Writer, general config.GeneralConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(general.LogLevel)}
	if strings.EqualFold(general.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig resolves the config and swaps in a logger matching it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Resolve(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(os.Stderr, cfg.General)
	return cfg, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "channels", len(cfg.Channels.Entries))
			fmt.Println("Next: set DISCORD_TOKEN and WEBHOOK_URL (or edit the config), then run `relaybot run`.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Aliases: []string{"gateway", "start"},
		Short:   "Start the relay (Discord listener, sinks, status server)",
		Long:    "Connects to Discord, relays messages from monitored channels to every enabled sink, and serves the status endpoint. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runRelay(cmd.Context(), cfg)
		},
	}
}

func channelsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List the monitored channel registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := registry.FromConfig(cfg.Channels)
			if asJSON {
				data, _ := json.MarshalIndent(reg.Entries(), "", "  ")
				fmt.Println(string(data))
				return nil
			}
			for _, e := range reg.Entries() {
				state := "on"
				if !e.Enabled {
					state = "off"
				}
				key := e.Key
				if key == "" {
					key = "-"
				}
				fmt.Printf("%-20s  %-3s  %-22s  %s\n", e.ID, state, key, e.Name)
			}
			fmt.Printf("\n%d monitored, %d total\n", reg.EnabledCount(), len(reg.Entries()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. delivery.timeoutSeconds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. sinks.push.enabled true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

var errNotRunning = errors.New("relay is not running")
