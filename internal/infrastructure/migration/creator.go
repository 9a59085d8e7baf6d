package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MigrationFile describes a freshly created up/down pair
type MigrationFile struct {
	Version     string
	Name        string
	Description string
	Timestamp   time.Time
	UpPath      string
	DownPath    string
}

// CreateMigration writes an empty up/down SQL pair into dir. The version
// prefix is the creation time down to the second, so concurrently created
// migrations sort by when they were written.
func CreateMigration(dir, name, description string) (*MigrationFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create migrations dir: %w", err)
	}

	now := time.Now()
	mf := &MigrationFile{
		Version:     now.Format("20060102150405"),
		Name:        sanitizeName(name),
		Description: description,
		Timestamp:   now,
	}
	base := mf.Version + "_" + mf.Name
	mf.UpPath = filepath.Join(dir, base+".up.sql")
	mf.DownPath = filepath.Join(dir, base+".down.sql")

	if err := os.WriteFile(mf.UpPath, []byte(mf.stub("up")), 0o644); err != nil {
		return nil, fmt.Errorf("write up migration: %w", err)
	}
	if err := os.WriteFile(mf.DownPath, []byte(mf.stub("down")), 0o644); err != nil {
		os.Remove(mf.UpPath)
		return nil, fmt.Errorf("write down migration: %w", err)
	}

	return mf, nil
}

func (mf *MigrationFile) stub(direction string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- %s (%s)\n", mf.Name, direction)
	fmt.Fprintf(&b, "-- created %s\n", mf.Timestamp.Format(time.RFC3339))
	if mf.Description != "" {
		fmt.Fprintf(&b, "-- %s\n", mf.Description)
	}
	b.WriteString("\n")
	if direction == "up" {
		b.WriteString("-- Schema changes go here.\n")
	} else {
		b.WriteString("-- Revert the up migration here.\n")
	}
	return b.String()
}

// sanitizeName lowercases the name and collapses anything that is not
// alphanumeric into single underscores, matching golang-migrate's
// expectations for file names.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}

// ListMigrations returns the base names of the migration pairs in dir,
// one entry per version. A missing directory is treated as empty.
func ListMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(entry.Name(), ".up.sql")
		if !ok {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
