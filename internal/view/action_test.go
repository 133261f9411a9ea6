package view

import "testing"

func TestParseActionKeybindingTable(t *testing.T) {
	cases := []struct {
		key     string
		context Context
		want    Action
	}{
		{"a", ContextDetail, ActionAccept},
		{"A", ContextDetail, ActionAccept},
		{"x", ContextDetail, ActionReject},
		{"x", ContextSummary, ActionRejectAll},
		{"X", ContextSummary, ActionRejectAll},
		{"v", ContextSummary, ActionViewDetails},
		{"d", ContextDetail, ActionViewDiff},
		{"c", ContextSummary, ActionCompare},
		{"r", ContextDetail, ActionRequestChanges},
		{"b", ContextDetail, ActionBackToSummary},
		{"q", ContextDiff, ActionBackToSummary},
		{"n", ContextDiff, ActionNextFile},
		{"p", ContextDiff, ActionPrevFile},
		{"m", ContextSummary, ActionManualReview},
		{"z", ContextSummary, ActionNone},
		{"", ContextSummary, ActionNone},
	}

	for _, tc := range cases {
		got := ParseAction(tc.key, ActionBarConfig{Context: tc.context})
		if got != tc.want {
			t.Errorf("ParseAction(%q, context=%s) = %q, want %q", tc.key, tc.context, got, tc.want)
		}
	}
}

func TestParseActionIsCaseInsensitive(t *testing.T) {
	cfg := ActionBarConfig{Context: ContextDetail}
	if ParseAction("A", cfg) != ParseAction("a", cfg) {
		t.Fatal("expected uppercase and lowercase keys to map to the same action")
	}
}

func TestParseActionRejectContextSensitivity(t *testing.T) {
	detail := ParseAction("x", ActionBarConfig{Context: ContextDetail})
	summary := ParseAction("x", ActionBarConfig{Context: ContextSummary})
	if detail != ActionReject {
		t.Fatalf("expected 'x' from detail context to reject the current iteration, got %q", detail)
	}
	if summary != ActionRejectAll {
		t.Fatalf("expected 'x' from summary context to reject all, got %q", summary)
	}
}
