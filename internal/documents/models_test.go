package documents

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusQueued, StatusExtracting, true},
		{StatusExtracting, StatusClassifying, true},
		{StatusClassifying, StatusEmbedding, true},
		{StatusEmbedding, StatusIndexing, true},
		{StatusIndexing, StatusProcessed, true},
		{StatusProcessed, StatusValidated, true},
		{StatusProcessed, StatusRecategorized, true},
		{StatusValidated, StatusRecategorized, true},
		{StatusRecategorized, StatusValidated, true},
		{StatusQueued, StatusFailed, true},
		{StatusExtracting, StatusFailed, true},
		{StatusIndexing, StatusFailed, true},
		{StatusQueued, StatusClassifying, false},
		{StatusExtracting, StatusEmbedding, false},
		{StatusProcessed, StatusFailed, false},
		{StatusFailed, StatusProcessed, false},
		{StatusProcessed, StatusExtracting, false},
	}
	for _, tc := range cases {
		if got := ValidTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestReprocessingResetIsAlwaysLegal(t *testing.T) {
	for _, from := range AllStatuses() {
		if !ValidTransition(from, StatusQueued) {
			t.Errorf("reset to queued from %s must be legal", from)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := ParseStatus("  Processed "); !ok || status != StatusProcessed {
		t.Fatalf("ParseStatus(Processed) = %q, %v", status, ok)
	}
	if _, ok := ParseStatus("shredded"); ok {
		t.Fatal("unknown status must not parse")
	}
	if _, ok := ParseStatus(""); ok {
		t.Fatal("empty status must not parse")
	}
}

func TestIsTerminalStatus(t *testing.T) {
	terminal := map[Status]bool{
		StatusProcessed:     true,
		StatusFailed:        true,
		StatusValidated:     true,
		StatusRecategorized: true,
	}
	for _, status := range AllStatuses() {
		if got := IsTerminalStatus(status); got != terminal[status] {
			t.Errorf("IsTerminalStatus(%s) = %v, want %v", status, got, terminal[status])
		}
	}
}
