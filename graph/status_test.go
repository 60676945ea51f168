package graph

import "testing"

func TestParseStatus(t *testing.T) {
	for _, st := range AllStatuses() {
		got, err := ParseStatus(string(st))
		if err != nil {
			t.Errorf("ParseStatus(%q): %v", st, err)
		}
		if got != st {
			t.Errorf("ParseStatus(%q) = %q", st, got)
		}
	}

	for _, bad := range []string{"", "done", "COMPLETED", "pending"} {
		if _, err := ParseStatus(bad); err == nil {
			t.Errorf("ParseStatus(%q) should fail", bad)
		}
		if Status(bad).Valid() {
			t.Errorf("Status(%q).Valid() = true", bad)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	}
	for _, st := range AllStatuses() {
		if st.Terminal() != terminal[st] {
			t.Errorf("%s.Terminal() = %v, want %v", st, st.Terminal(), terminal[st])
		}
	}
	if Status("bogus").Terminal() {
		t.Error("unknown status must not be terminal")
	}
}

func TestAllStatuses_ReturnsCopy(t *testing.T) {
	a := AllStatuses()
	a[0] = "mutated"
	if AllStatuses()[0] != StatusStarted {
		t.Error("AllStatuses exposes internal slice")
	}
}
