package testutil

import "testing"

// Given, When and Then nest scenario steps as subtests so a failing step reads
// as a sentence in the test output.
func Given(t *testing.T, precondition string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Given", precondition, fn)
}

func When(t *testing.T, action string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "When", action, fn)
}

func Then(t *testing.T, outcome string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Then", outcome, fn)
}

func step(t *testing.T, keyword, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run(keyword+" "+desc, fn)
}
