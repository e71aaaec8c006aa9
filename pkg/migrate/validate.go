package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	upMarker   = "-- +goose Up"
	downMarker = "-- +goose Down"
)

var (
	sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

	// Balances change only through appended transactions rows, so forward
	// migrations may not rewrite or remove ledger data.
	ledgerRewriteRe = regexp.MustCompile(`(?i)\b(delete\s+from|truncate(\s+table)?|drop\s+table(\s+if\s+exists)?|update)\s+(transactions|wallets)\b`)
	floatMoneyRe    = regexp.MustCompile(`(?i)\b(float[48]?|real|double\s+precision)\b`)
)

// Migration is one validated goose file.
type Migration struct {
	Version string
	Name    string
}

// ValidateDir checks filenames, goose headers and the ledger rules for every
// SQL migration in dir.
func ValidateDir(dir string) error {
	_, err := scanDir(dir)
	return err
}

// scanDir returns the migrations in dir ordered by version.
func scanDir(dir string) ([]Migration, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := map[string]string{}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		name := e.Name()
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		version := m[1]
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %s in %q and %q", version, prev, name)
		}
		seen[version] = name

		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read file %q: %w", name, err)
		}
		if err := checkBody(name, string(b)); err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: version, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func checkBody(name, txt string) error {
	up := strings.Index(txt, upMarker)
	if up < 0 {
		return fmt.Errorf("migration %q missing %q", name, upMarker)
	}
	down := strings.Index(txt, downMarker)
	if down < 0 {
		return fmt.Errorf("migration %q missing %q", name, downMarker)
	}
	if down < up {
		return fmt.Errorf("migration %q has its Down section before Up", name)
	}

	forward := stripComments(txt[up:down])
	if stmt := ledgerRewriteRe.FindString(forward); stmt != "" {
		return fmt.Errorf("migration %q rewrites ledger data (%s); balances change only through appended transactions", name, stmt)
	}
	if typ := floatMoneyRe.FindString(forward); typ != "" {
		return fmt.Errorf("migration %q declares a %s column; amounts must be numeric(38,18)", name, typ)
	}
	return nil
}

func stripComments(sql string) string {
	lines := strings.Split(sql, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "--"); idx >= 0 {
			lines[i] = line[:idx]
		}
	}
	return strings.Join(lines, "\n")
}
