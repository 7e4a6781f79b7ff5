package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"deskpilot/internal/config"

	"github.com/spf13/cobra"
)

// archiveEntry maps a file on disk to its name inside a backup archive.
type archiveEntry struct {
	path string
	name string
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of DeskPilot data (execution log, config, tools and patterns)",
		Long: `Creates a compressed .tar.gz archive containing the SQLite execution log,
the configuration file and the YAML files of the tools and patterns directories.
Restore with 'deskpilot backup restore <file>'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, logClose, err := loadConfig()
			if err != nil {
				return err
			}
			defer logClose.Close()

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("deskpilot-backup-%s.tar.gz", ts))
			}

			entries := backupEntries(cfg, cfgPath)
			if len(entries) == 0 {
				return fmt.Errorf("no files to backup (db: %s, config: %s)", cfg.Memory.DBPath, cfgPath)
			}
			if err := createTarGz(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backup created: %s\n", outputPath)
			fmt.Fprintf(out, "Files included: %d\n", len(entries))
			for _, e := range entries {
				size := int64(0)
				if info, err := os.Stat(e.path); err == nil {
					size = info.Size()
				}
				fmt.Fprintf(out, "  - %s (%s)\n", e.name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.deskpilot/backups/deskpilot-backup-<timestamp>.tar.gz)")
	cmd.AddCommand(restoreCmd())
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore DeskPilot data from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, logClose, err := loadConfig()
			if err != nil {
				return err
			}
			defer logClose.Close()

			targets := restoreTargets(cfg, cfgPath)
			if !force {
				for _, p := range []string{cfg.Memory.DBPath, cfgPath} {
					if _, err := os.Stat(p); err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "WARNING: %s exists and would be overwritten.\n", p)
						return fmt.Errorf("restore aborted (use --force to proceed)")
					}
				}
			}

			restored, err := extractTarGz(args[0], targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Restore completed from: %s\n", args[0])
			fmt.Fprintf(out, "Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Fprintf(out, "  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// backupEntries lists the files that exist among the database (with its
// WAL and SHM companions), the config file and the YAML definitions.
func backupEntries(cfg *config.Config, cfgPath string) []archiveEntry {
	var entries []archiveEntry
	add := func(p, name string) {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			entries = append(entries, archiveEntry{path: p, name: name})
		}
	}

	if cfg.Memory.DBPath != "" {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			add(cfg.Memory.DBPath+suffix, "deskpilot.db"+suffix)
		}
	}
	add(cfgPath, "config.json")

	for prefix, dir := range map[string]string{"tools": cfg.Plugins.ToolsDir, "patterns": cfg.Resolver.PatternsDir} {
		if dir == "" {
			continue
		}
		files, _ := os.ReadDir(dir)
		for _, f := range files {
			ext := strings.ToLower(filepath.Ext(f.Name()))
			if f.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			add(filepath.Join(dir, f.Name()), path.Join(prefix, f.Name()))
		}
	}
	return entries
}

// restoreTargets maps archive directories and fixed names to local paths.
func restoreTargets(cfg *config.Config, cfgPath string) map[string]string {
	return map[string]string{
		"config.json":      cfgPath,
		"deskpilot.db":     cfg.Memory.DBPath,
		"deskpilot.db-wal": cfg.Memory.DBPath + "-wal",
		"deskpilot.db-shm": cfg.Memory.DBPath + "-shm",
		"tools":            cfg.Plugins.ToolsDir,
		"patterns":         cfg.Resolver.PatternsDir,
	}
}

// createTarGz creates a .tar.gz archive from the given entries.
func createTarGz(outputPath string, entries []archiveEntry) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for _, e := range entries {
		if err := addFileToTar(tarWriter, e); err != nil {
			return fmt.Errorf("add %s: %w", e.path, err)
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, e archiveEntry) error {
	file, err := os.Open(e.path)
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
	header.Name = e.name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz writes the archive members that have a target and skips the
// rest. Members under a directory prefix land in that prefix's target dir.
func extractTarGz(archivePath string, targets map[string]string) ([]string, error) {
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
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		targetPath := restorePath(path.Clean(header.Name), targets)
		if targetPath == "" {
			logger.Warn("skipping unknown archive member", "name", header.Name)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}

		outFile, err := os.Create(targetPath)
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

func restorePath(name string, targets map[string]string) string {
	if target, ok := targets[name]; ok && !strings.Contains(name, "/") {
		return target
	}
	dir, base := path.Split(name)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" || strings.Contains(dir, "/") || base == "" || base == ".." {
		return ""
	}
	root, ok := targets[dir]
	if !ok || root == "" {
		return ""
	}
	return filepath.Join(root, base)
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
