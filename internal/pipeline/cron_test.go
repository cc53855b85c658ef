package pipeline

import (
	"testing"
	"time"
)

func TestParseCronRejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{"", "0 3 * *", "0 3 * * * *", "x 3 * * *"} {
		if _, err := parseCron(expr); err == nil {
			t.Fatalf("expression %q should be rejected", expr)
		}
	}
}

func TestCronFieldMatching(t *testing.T) {
	f, err := parseCronField("1,15")
	if err != nil {
		t.Fatalf("parseCronField: %v", err)
	}
	if !f.matches(1) || !f.matches(15) || f.matches(2) {
		t.Fatalf("list field matching broken: %+v", f)
	}

	w, err := parseCronField("*")
	if err != nil {
		t.Fatalf("parseCronField: %v", err)
	}
	if !w.matches(0) || !w.matches(59) {
		t.Fatalf("wildcard should match everything")
	}
}

func TestNextCronTimeDaily(t *testing.T) {
	after := time.Date(2026, 8, 31, 10, 30, 45, 0, time.UTC)

	next, err := nextCronTime("0 3 * * *", after)
	if err != nil {
		t.Fatalf("nextCronTime: %v", err)
	}
	want := time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextCronTimeSameDay(t *testing.T) {
	after := time.Date(2026, 8, 31, 1, 15, 0, 0, time.UTC)

	next, err := nextCronTime("0 3 * * *", after)
	if err != nil {
		t.Fatalf("nextCronTime: %v", err)
	}
	want := time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextCronTimeEveryMinute(t *testing.T) {
	after := time.Date(2026, 8, 31, 1, 15, 30, 0, time.UTC)

	next, err := nextCronTime("* * * * *", after)
	if err != nil {
		t.Fatalf("nextCronTime: %v", err)
	}
	want := time.Date(2026, 8, 31, 1, 16, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}
