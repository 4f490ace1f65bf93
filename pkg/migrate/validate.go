package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

var (
	migrationNameRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	createTableRe   = regexp.MustCompile(`(?i)CREATE TABLE IF NOT EXISTS\s+([a-z_]+)`)
	referencesRe    = regexp.MustCompile(`(?i)REFERENCES\s+([a-z_]+)\s*\(`)
)

// ledgerTables must all be created by the migration set for the ledger to run.
var ledgerTables = []string{"coupons", "withdrawals", "coupon_events"}

type migrationFile struct {
	version string
	name    string
	body    string
}

// ValidateDir checks a migrations directory on disk, or the embedded set when
// dir is EmbeddedDir. Every problem found is reported, not just the first.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	if dir == EmbeddedDir {
		return ValidateFS(embeddedMigrations, EmbeddedDir)
	}
	return ValidateFS(os.DirFS(dir), ".")
}

// ValidateFS checks file naming and goose markers, then that the ledger tables
// are created and that no migration references a table created after it.
func ValidateFS(fsys fs.FS, dir string) error {
	files, errs := readMigrations(fsys, dir)

	created := map[string]string{}
	for _, f := range files {
		for _, ref := range referencesRe.FindAllStringSubmatch(f.body, -1) {
			table := strings.ToLower(ref[1])
			if _, ok := created[table]; !ok && !createsTable(f.body, table) {
				errs = multierr.Append(errs, fmt.Errorf("migration %q references %s before it is created", f.name, table))
			}
		}
		for _, m := range createTableRe.FindAllStringSubmatch(f.body, -1) {
			created[strings.ToLower(m[1])] = f.name
		}
	}
	for _, table := range ledgerTables {
		if _, ok := created[table]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("no migration creates table %s", table))
		}
	}
	return errs
}

func readMigrations(fsys fs.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	var (
		errs  error
		files []migrationFile
		seen  = map[string]string{}
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := migrationNameRe.FindStringSubmatch(name)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name))
			continue
		}
		if prev, ok := seen[m[1]]; ok {
			errs = multierr.Append(errs, fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name))
			continue
		}
		seen[m[1]] = name

		b, err := fs.ReadFile(fsys, joinFS(dir, name))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read %q: %w", name, err))
			continue
		}
		body := string(b)
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(body, marker) {
				errs = multierr.Append(errs, fmt.Errorf("migration %q missing %q", name, marker))
			}
		}
		files = append(files, migrationFile{version: m[1], name: name, body: body})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, errs
}

// createsTable covers self references, which are legal inside the creating file.
func createsTable(body, table string) bool {
	for _, m := range createTableRe.FindAllStringSubmatch(body, -1) {
		if strings.EqualFold(m[1], table) {
			return true
		}
	}
	return false
}

func joinFS(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return dir + "/" + name
}
