package migrator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration is one schema change loaded from disk
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

var (
	filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upMarkerRegex = regexp.MustCompile(`^--\s*\+migrate\s+Up\s*$`)
)

// ParseMigrationFile parses a single migration file.
// Files are named NNN_name.sql and must carry a '-- +migrate Up' marker
// before their SQL.
func ParseMigrationFile(path string) (*Migration, error) {
	filename := filepath.Base(path)
	matches := filenameRegex.FindStringSubmatch(filename)
	if matches == nil {
		return nil, fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}

	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid version number in filename: %s", matches[1])
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration file: %w", err)
	}

	lines := strings.Split(string(content), "\n")

	markerLine := -1
	for i, line := range lines {
		if upMarkerRegex.MatchString(line) {
			markerLine = i
			break
		}
	}
	if markerLine < 0 {
		return nil, fmt.Errorf("missing '-- +migrate Up' marker in migration file: %s", filename)
	}

	sql := strings.TrimSpace(strings.Join(lines[markerLine+1:], "\n"))
	if sql == "" {
		return nil, fmt.Errorf("migration file contains no SQL statements: %s", filename)
	}

	return &Migration{
		Version: version,
		Name:    matches[2],
		UpSQL:   sql,
	}, nil
}

// LoadMigrations loads all migrations from a directory, validates the
// version sequence, and returns them sorted by version.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !filenameRegex.MatchString(entry.Name()) {
			continue
		}

		migration, err := ParseMigrationFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, *migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	// Versions must form an unbroken 1..N sequence
	for i, m := range migrations {
		expected := i + 1
		if m.Version < expected {
			return nil, fmt.Errorf("duplicate migration version: %d", m.Version)
		}
		if m.Version > expected {
			return nil, fmt.Errorf("gap in migration versions: expected %d, found %d", expected, m.Version)
		}
	}

	return migrations, nil
}
