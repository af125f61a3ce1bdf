package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
	"relaybot/internal/registry"
	"relaybot/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your relaybot installation",
		Long: `Verifies that relaybot's configuration, credentials, record store,
sinks and status port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("relaybot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			// 1. Config file (optional: the relay can run from env alone)
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s (using defaults and environment)", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			// 2. Config loads and validates
			cfg, err := config.Resolve(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			// 3. Credentials
			if cfg.Discord.Token == "" {
				r.fail("Discord token", "not set (DISCORD_TOKEN)")
			} else {
				r.pass("Discord token", fmt.Sprintf("%s token configured", cfg.Discord.TokenType))
			}

			// 4. Channels
			reg := registry.FromConfig(cfg.Channels)
			if n := reg.EnabledCount(); n == 0 {
				r.fail("Channels", "no monitored channels")
			} else {
				r.pass("Channels", fmt.Sprintf("%d monitored", n))
			}

			// 5. Record store writable
			if cfg.Sinks.Store.Enabled {
				if err := checkDatabase(cfg.Sinks.Store.DBPath); err != nil {
					r.fail("Record store", err.Error())
				} else {
					r.pass("Record store", cfg.Sinks.Store.DBPath)
				}
			}

			// 6. Sinks
			if enabled := cfg.EnabledSinks(); len(enabled) == 0 {
				r.fail("Sinks", "no sink enabled")
			} else {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				snap, err := localSnapshot(ctx, cfg)
				cancel()
				if err != nil {
					r.fail("Sinks", err.Error())
				}
				for _, s := range snap.Sinks {
					switch {
					case !s.Configured:
					case s.Reachable == nil:
						r.pass("Sink: "+s.Name, fmt.Sprintf("enabled (%s)", s.Role))
					case *s.Reachable:
						r.pass("Sink: "+s.Name, fmt.Sprintf("reachable (%s)", s.Role))
					default:
						r.warn("Sink: "+s.Name, "unreachable: "+s.Error)
					}
				}
			}

			// 7. Status port
			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				r.warn("Status port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				r.pass("Status port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			return r.summary()
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running relaybot.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nrelaybot should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! relaybot is ready to run.\n")
	}
	return nil
}

// checkDatabase opens the record store, which creates and migrates it.
func checkDatabase(dbPath string) error {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
