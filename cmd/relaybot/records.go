package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"relaybot/internal/config"
	"relaybot/internal/registry"
	"relaybot/internal/retention"
	"relaybot/internal/sink"
	"relaybot/internal/status"
	"relaybot/internal/store"
)

func statusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show relay status",
		Long:  "Queries the running relay's status endpoint. When the relay is not running, prints the configured sinks and their reachability instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			snap, err := fetchStatus(ctx, statusURL(cfg.Server))
			if err != nil {
				logger.Info("no running relay, probing sinks locally", "err", err)
				snap, err = localSnapshot(ctx, cfg)
				if err != nil {
					return err
				}
			}
			if asJSON {
				data, _ := json.MarshalIndent(snap, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func statusURL(srv config.ServerConfig) string {
	host := srv.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(srv.Port)) + "/health"
}

func fetchStatus(ctx context.Context, url string) (status.Snapshot, error) {
	var snap status.Snapshot
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return snap, err
	}
	resp, err := sink.SharedHTTPClient(5 * time.Second).Do(req)
	if err != nil {
		return snap, fmt.Errorf("%w: %v", errNotRunning, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("%w: status %d", errNotRunning, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode status: %w", err)
	}
	return snap, nil
}

// localSnapshot builds a status document without a Discord session.
func localSnapshot(ctx context.Context, cfg *config.Config) (status.Snapshot, error) {
	reg := registry.FromConfig(cfg.Channels)
	deps := sinkDeps{
		Registry: reg,
		Client:   sink.SharedHTTPClient(5 * time.Second),
		Logger:   logger,
	}
	if cfg.Sinks.Store.Enabled {
		st, err := store.NewSQLiteStore(cfg.Sinks.Store.DBPath, logger)
		if err != nil {
			return status.Snapshot{}, fmt.Errorf("record store: %w", err)
		}
		defer st.Close()
		deps.Store = st
		deps.Trimmer = retention.NewTrimmer(st, logger)
	}
	if cfg.Sinks.Feed.Enabled {
		deps.Feed = sink.NewFeed(logger)
	}
	_, entries, err := buildSinks(cfg, deps)
	if err != nil {
		return status.Snapshot{}, err
	}
	agg := status.NewAggregator(status.Config{
		Version:  version,
		Scope:    cfg.Discord.GuildID,
		Channels: reg,
		Sinks:    entries,
		Logger:   logger,
	})
	snap := agg.Snapshot(ctx)
	snap.Status = "stopped"
	return snap, nil
}

func printSnapshot(w io.Writer, snap status.Snapshot) {
	fmt.Fprintf(w, "relaybot %s: %s\n", snap.Version, snap.Status)
	if snap.Status != "stopped" {
		fmt.Fprintf(w, "  started      %s\n", snap.Started)
		user := snap.Upstream.User
		if user == "" {
			user = "-"
		}
		fmt.Fprintf(w, "  discord      ready=%v user=%s guilds=%d\n", snap.Upstream.Ready, user, snap.Upstream.Guilds)
	}
	fmt.Fprintf(w, "  channels     %d monitored\n", snap.MonitoredChannels)
	fmt.Fprintf(w, "  events       received=%d accepted=%d rejected=%d relayed=%d lost=%d\n",
		snap.Events.Received, snap.Events.Accepted, snap.Events.Rejected, snap.Events.Relayed, snap.Events.Lost)
	if snap.LastRelayedAt != nil {
		fmt.Fprintf(w, "  last relay   %s\n", humanize.Time(*snap.LastRelayedAt))
	}
	fmt.Fprintln(w, "  sinks:")
	for _, s := range snap.Sinks {
		state := "disabled"
		switch {
		case !s.Configured:
		case s.Reachable == nil:
			state = "enabled"
		case *s.Reachable:
			state = "reachable"
		default:
			state = "unreachable: " + s.Error
		}
		fmt.Fprintf(w, "    %-9s %-8s %s\n", s.Name, s.Role, state)
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [channel-key]",
		Short: "Show stored messages for a channel key, newest first",
		Long:  "Lists records kept by the store sink. Without a key, prints every key with its record count.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.NewSQLiteStore(cfg.Sinks.Store.DBPath, logger)
			if err != nil {
				return fmt.Errorf("record store: %w", err)
			}
			defer st.Close()
			ctx := context.Background()

			if len(args) == 0 {
				keys, err := st.ChannelKeys(ctx)
				if err != nil {
					return err
				}
				for _, k := range keys {
					n, err := st.Count(ctx, k)
					if err != nil {
						return err
					}
					fmt.Printf("%-24s %d\n", k, n)
				}
				return nil
			}

			records, err := st.Recent(ctx, args[0], limit)
			if err != nil {
				return err
			}
			for _, r := range records {
				var p sink.WebhookPayload
				if err := json.Unmarshal([]byte(r.Payload), &p); err != nil {
					fmt.Printf("#%d %s (undecodable payload)\n", r.ID, r.MessageID)
					continue
				}
				fmt.Printf("#%d  %-14s  %-20s  %s\n", r.ID, humanize.Time(r.CreatedAt), p.AuthorName, oneLine(p.Content, 80))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	return cmd
}

func sweepCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Trim every stored channel key to its newest records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if keep <= 0 {
				keep = cfg.Retention.Keep
			}
			st, err := store.NewSQLiteStore(cfg.Sinks.Store.DBPath, logger)
			if err != nil {
				return fmt.Errorf("record store: %w", err)
			}
			defer st.Close()

			deleted, err := retention.NewTrimmer(st, logger).Sweep(context.Background(), keep)
			fmt.Printf("deleted %s records (keep %d per key)\n", humanize.Comma(int64(deleted)), keep)
			return err
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "records to keep per key (default: retention.keep)")
	return cmd
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}
