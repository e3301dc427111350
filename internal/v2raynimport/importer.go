package v2raynimport

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// Subscription is one remote feed registered in a v2rayN installation.
type Subscription struct {
	Remarks string
	URL     string
}

type subItemRow struct {
	IndexID string
	Remarks sql.NullString
	URL     sql.NullString
	Enabled sql.NullInt64
}

// LoadSubscriptions reads the enabled subscription URLs out of a v2rayN
// home directory (guiConfigs/guiNDB.db, SubItem table).
func LoadSubscriptions(home string) ([]Subscription, error) {
	home = filepath.Clean(home)
	dbPath := filepath.Join(home, "guiConfigs", "guiNDB.db")
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("v2rayN db not found: %s: %w", dbPath, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open v2rayN db: %w", err)
	}
	defer db.Close()

	rows, err := readSubItems(db)
	if err != nil {
		return nil, err
	}

	out := filterEnabled(rows)
	if len(out) == 0 {
		return nil, fmt.Errorf("no enabled subscriptions found in v2rayN db")
	}
	return out, nil
}

func readSubItems(db *sql.DB) ([]subItemRow, error) {
	rows, err := db.Query(`SELECT IndexId, Remarks, Url, Enabled FROM SubItem`)
	if err != nil {
		return nil, fmt.Errorf("query SubItem: %w", err)
	}
	defer rows.Close()
	out := make([]subItemRow, 0)
	for rows.Next() {
		var r subItemRow
		if err := rows.Scan(&r.IndexID, &r.Remarks, &r.URL, &r.Enabled); err != nil {
			return nil, fmt.Errorf("scan SubItem: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func filterEnabled(rows []subItemRow) []Subscription {
	sort.Slice(rows, func(i, j int) bool { return rows[i].IndexID < rows[j].IndexID })
	out := make([]Subscription, 0, len(rows))
	for _, r := range rows {
		if r.Enabled.Valid && r.Enabled.Int64 == 0 {
			continue
		}
		url := strings.TrimSpace(r.URL.String)
		if url == "" {
			continue
		}
		remarks := strings.TrimSpace(r.Remarks.String)
		if remarks == "" {
			remarks = r.IndexID
		}
		out = append(out, Subscription{Remarks: remarks, URL: url})
	}
	return out
}
