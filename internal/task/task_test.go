package task

import "testing"

func TestStatusResolved(t *testing.T) {
	cases := map[Status]bool{
		StatusClosed:     true,
		StatusWontDo:     true,
		StatusOpen:       false,
		StatusBlocked:    false,
		StatusInProgress: false,
		StatusReview:     false,
	}
	for status, want := range cases {
		if got := status.Resolved(); got != want {
			t.Errorf("Status(%q).Resolved() = %v, want %v", status, got, want)
		}
	}
}

func TestPriorityWeightOrdering(t *testing.T) {
	order := []Priority{PriorityNone, PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Weight() <= order[i-1].Weight() {
			t.Errorf("%s.Weight() = %v, want > %s.Weight() = %v", order[i], order[i].Weight(), order[i-1], order[i-1].Weight())
		}
	}
}

func TestPriorityWeightUnknownDefaultsToNone(t *testing.T) {
	if Priority("unknown").Weight() != PriorityNone.Weight() {
		t.Error("unknown priority should default to the none tier's weight")
	}
}

func TestLabelOverlap(t *testing.T) {
	task := PickableTask{Labels: []string{"backend", "urgent", "infra"}}
	if got := task.LabelOverlap([]string{"urgent", "infra"}); got != 2 {
		t.Errorf("LabelOverlap = %d, want 2", got)
	}
	if got := task.LabelOverlap(nil); got != 0 {
		t.Errorf("LabelOverlap(nil) = %d, want 0", got)
	}
}
