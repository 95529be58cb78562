package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var fileNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_-]+)\.sql$`)

// Migration is one versioned SQL file.
type Migration struct {
	Version     string
	Description string
	SQL         string
	FilePath    string
	Checksum    string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}

// Load reads every .sql file in dir of fsys, ordered by numeric version.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, NewMigrationError("", dir, "read directory", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		matches := fileNamePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			return nil, NewMigrationError("", entry.Name(), "validate filename",
				fmt.Errorf("%w: %q does not match {version}_{description}.sql", ErrInvalidMigrationFile, entry.Name()))
		}
		number, _ := strconv.Atoi(matches[1])
		if other, ok := seen[number]; ok {
			return nil, NewMigrationError(matches[1], entry.Name(), "check duplicates",
				fmt.Errorf("%w: also in %s", ErrDuplicateVersion, other))
		}
		seen[number] = entry.Name()

		filePath := path.Join(dir, entry.Name())
		content, err := fs.ReadFile(fsys, filePath)
		if err != nil {
			return nil, NewMigrationError(matches[1], filePath, "read file", err)
		}
		if strings.TrimSpace(string(content)) == "" {
			return nil, NewMigrationError(matches[1], filePath, "read file",
				fmt.Errorf("%w: empty file", ErrInvalidMigrationFile))
		}

		sum := sha256.Sum256(content)
		migrations = append(migrations, Migration{
			Version:     matches[1],
			Description: strings.ReplaceAll(matches[2], "_", " "),
			SQL:         string(content),
			FilePath:    filePath,
			Checksum:    hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return versionNumber(migrations[i].Version) < versionNumber(migrations[j].Version)
	})
	return migrations, nil
}

func versionNumber(version string) int {
	n, _ := strconv.Atoi(version)
	return n
}

// splitStatements splits a script on semicolons and drops comment-only lines.
func splitStatements(script string) []string {
	var statements []string
	for _, stmt := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}
	return statements
}
