package postgres

import (
	"strings"
	"testing"
)

// orderByClause extracts everything after ORDER BY so the tests can assert
// the tie-break sequence without a live database.
func orderByClause(t *testing.T, query string) string {
	t.Helper()
	idx := strings.Index(query, "ORDER BY")
	if idx < 0 {
		t.Fatalf("query has no ORDER BY: %s", query)
	}
	return query[idx:]
}

func TestBestAskTieBreaks(t *testing.T) {
	tests := []struct {
		name       string
		normalized bool
		want       string
	}{
		{
			"raw floor",
			false,
			"ORDER BY value ASC, fee_bps ASC, id ASC LIMIT 1",
		},
		{
			"normalized floor",
			true,
			"ORDER BY COALESCE(normalized_value, value) ASC, value ASC, fee_bps ASC, id ASC LIMIT 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := orderByClause(t, bestAskQuery(tt.normalized, false))
			if got != tt.want {
				t.Fatalf("order by = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBestAskExcludeClause(t *testing.T) {
	with := bestAskQuery(false, true)
	if !strings.Contains(with, "kind <> ALL($3)") {
		t.Fatalf("exclude variant misses the kind filter: %s", with)
	}
	without := bestAskQuery(false, false)
	if strings.Contains(without, "kind <> ALL") {
		t.Fatalf("plain variant must not filter kinds: %s", without)
	}
}

func TestTopBidTieBreaks(t *testing.T) {
	got := orderByClause(t, topBidQuery)
	want := "ORDER BY value DESC, fee_bps ASC, id ASC LIMIT 1"
	if got != want {
		t.Fatalf("order by = %q, want %q", got, want)
	}
}
