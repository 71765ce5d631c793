package dbman

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const backupTimestampFormat = "20060102_150405"

// Backup copies the database file into the backup directory as
// <stem>_<timestamp>.bak.db and returns the backup path.
func (m *Manager) Backup() (string, error) {
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(m.path), filepath.Ext(m.path))
	name := fmt.Sprintf("%s_%s.bak.db", stem, time.Now().Format(backupTimestampFormat))
	backupPath := filepath.Join(m.backupDir, name)

	if err := copyFile(m.path, backupPath); err != nil {
		return "", fmt.Errorf("failed to back up database: %w", err)
	}

	m.logger.Info("Database backed up", "path", m.path, "backup", backupPath)
	return backupPath, nil
}

// restore moves the current database file aside with the given suffix and
// puts the backup in its place.
func (m *Manager) restore(backupPath, suffix string) error {
	aside := m.path + suffix
	if err := os.Rename(m.path, aside); err != nil {
		return fmt.Errorf("failed to set aside database: %w", err)
	}
	if err := copyFile(backupPath, m.path); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}
	m.logger.Info("Backup restored", "backup", backupPath, "kept", aside)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %q to %q: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %q: %w", dst, err)
	}
	return nil
}
