package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

// Archive member names. Members are stored flat under these fixed names so
// a backup can be restored onto a host with different paths.
const (
	memberConfig   = "config.json"
	memberChannels = "channels.yaml"
	memberDB       = "relay.db"
)

// backupTargets maps archive member names to local paths.
type backupTargets map[string]string

func resolveBackupTargets(cfgPath string) backupTargets {
	t := backupTargets{memberConfig: cfgPath}
	cfg, err := config.Resolve(cfgPath)
	if err != nil {
		cfg = config.Defaults()
		cfg.Sinks.Store.DBPath = config.ExpandPath(cfg.Sinks.Store.DBPath)
	}
	t[memberDB] = cfg.Sinks.Store.DBPath
	t[memberDB+"-wal"] = cfg.Sinks.Store.DBPath + "-wal"
	t[memberDB+"-shm"] = cfg.Sinks.Store.DBPath + "-shm"
	if cfg.Channels.File != "" {
		t[memberChannels] = cfg.Channels.File
	}
	return t
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of relaybot data (record store + config)",
		Long: `Creates a compressed .tar.gz archive containing the record store database,
the configuration file and the channel table. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := resolveBackupTargets(resolveConfigPath())

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("relaybot-backup-%s.tar.gz", ts))
			}

			members := make(map[string]string)
			for name, path := range targets {
				if _, err := os.Stat(path); err == nil {
					members[name] = path
				}
			}
			if len(members) == 0 {
				return fmt.Errorf("no files to back up (db: %s, config: %s)", targets[memberDB], targets[memberConfig])
			}

			if err := createTarGz(outputPath, members); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(members))
			for name, path := range members {
				var size uint64
				if info, err := os.Stat(path); err == nil {
					size = uint64(info.Size())
				}
				fmt.Printf("  - %s (%s)\n", name, humanize.Bytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.relaybot/backups/relaybot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore relaybot data from a backup archive",
		Long: `Restores the record store, configuration file and channel table from a
.tar.gz archive created by 'relaybot backup'. Stop the relay first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: relaybot restore <file.tar.gz>")
			}

			targets := resolveBackupTargets(resolveConfigPath())

			if !force {
				var existing []string
				for _, name := range []string{memberConfig, memberDB} {
					if _, err := os.Stat(targets[name]); err == nil {
						existing = append(existing, targets[name])
					}
				}
				if len(existing) > 0 {
					fmt.Printf("WARNING: This will overwrite existing data:\n")
					for _, p := range existing {
						fmt.Printf("  %s\n", p)
					}
					fmt.Printf("Use --force to skip this warning.\n")
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			restored, err := extractTarGz(inputPath, targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// createTarGz writes members (archive name -> local path) to a .tar.gz file.
func createTarGz(outputPath string, members map[string]string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for name, path := range members {
		if err := addFileToTar(tarWriter, name, path); err != nil {
			return fmt.Errorf("add %s: %w", path, err)
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, name, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz restores known members to their target paths. Unknown members
// are skipped.
func extractTarGz(archivePath string, targets backupTargets) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		name := filepath.Base(header.Name)
		targetPath, ok := targets[name]
		if !ok || strings.Contains(header.Name, "..") {
			logger.Warn("skipping unknown archive member", "name", header.Name)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}
		outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		outFile.Close()
		restored = append(restored, targetPath)
	}

	return restored, nil
}
