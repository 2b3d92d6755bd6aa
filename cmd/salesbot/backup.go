package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/saare1/aisales/internal/config"
	"github.com/saare1/aisales/internal/store"

	"github.com/spf13/cobra"
)

const (
	archiveDB     = "sales.db"
	archiveConfig = "config.json"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the record store and config",
		Long: `Writes a consistent snapshot of the SQLite record store (VACUUM INTO)
and the config file to a timestamped .tar.gz archive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if outputPath == "" {
				dir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(dir, fmt.Sprintf("salesbot-%s.tar.gz", time.Now().Format("20060102-150405")))
			}

			tmp, err := os.MkdirTemp("", "salesbot-backup")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmp)

			snapshot := filepath.Join(tmp, archiveDB)
			if err := snapshotDB(config.ExpandPath(cfg.Store.DBPath), snapshot); err != nil {
				return fmt.Errorf("snapshot: %w", err)
			}
			entries := map[string]string{archiveDB: snapshot}
			if cfgPath := resolveConfigPath(); fileExists(cfgPath) {
				entries[archiveConfig] = cfgPath
			}

			if err := writeArchive(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			logger.Info("backup created", "file", outputPath, "entries", len(entries))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "archive path (default: ~/.salesbot/backups/salesbot-<time>.tar.gz)")
	cmd.AddCommand(restoreCmd())
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore [archive]",
		Short: "Restore the record store and config from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbPath := config.ExpandPath(cfg.Store.DBPath)
			cfgPath := resolveConfigPath()
			if !force && (fileExists(dbPath) || fileExists(cfgPath)) {
				return fmt.Errorf("restore would overwrite %s and %s (use --force to proceed)", dbPath, cfgPath)
			}
			targets := map[string]string{archiveDB: dbPath, archiveConfig: cfgPath}
			restored, err := extractArchive(args[0], targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			// Stale WAL files would be replayed over the restored database.
			for _, suffix := range []string{"-wal", "-shm"} {
				os.Remove(dbPath + suffix)
			}
			logger.Info("restore complete", "archive", args[0], "files", restored)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data")
	return cmd
}

func snapshotDB(dbPath, dest string) error {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	_, err = st.DB().ExecContext(ctx, `VACUUM INTO ?`, dest)
	return err
}

// writeArchive stores each source file under its archive name.
func writeArchive(outputPath string, entries map[string]string) (err error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for name, src := range entries {
		if err := addFileToTar(tw, name, src); err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFileToTar(tw *tar.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// extractArchive writes the known archive entries to their targets and
// ignores anything else.
func extractArchive(archivePath string, targets map[string]string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return restored, err
		}
		target, ok := targets[filepath.Base(hdr.Name)]
		if !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return restored, err
		}
		dst, err := os.Create(target)
		if err != nil {
			return restored, fmt.Errorf("create %s: %w", target, err)
		}
		_, err = io.Copy(dst, tr)
		dst.Close()
		if err != nil {
			return restored, fmt.Errorf("extract %s: %w", target, err)
		}
		restored = append(restored, target)
	}
	return restored, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
