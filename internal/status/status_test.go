package status

import "testing"

type event struct {
	t       ProgressType
	overall float64
	nesting int
}

func record(events *[]event) Callback {
	return func(t ProgressType, process, overall, sizeOfJob float64, nesting int, info string) {
		*events = append(*events, event{t: t, overall: overall, nesting: nesting})
	}
}

func TestOverallProgressIsMonotonic(t *testing.T) {
	t.Parallel()

	var events []event
	root := NewRoot(Settings{Callback: record(&events), Verbosity: -1})

	root.Update(Percentage, 0, 10, "start")
	child := root.Nest(10, 80, "phase")
	child.Update(Percentage, 25, 0, "quarter")
	child.Update(Percentage, 50, 0, "half")
	grand := child.Nest(50, 50, "inner")
	grand.Update(Percentage, 100, 0, "inner done")
	grand.Close()
	child.Close()
	root.Update(Percentage, 90, 10, "wrap")
	root.Close()

	prev := -1.0
	for i, e := range events {
		if e.overall < prev-1e-9 {
			t.Fatalf("overall regressed at event %d: %f -> %f", i, prev, e.overall)
		}
		if e.overall > 100+1e-9 {
			t.Fatalf("overall exceeds 100 at event %d: %f", i, e.overall)
		}
		prev = e.overall
	}
}

func TestEveryScopeClosesWithEndAtFull(t *testing.T) {
	t.Parallel()

	var events []event
	root := NewRoot(Settings{Callback: record(&events), Verbosity: -1})
	child := root.Nest(0, 50, "phase")
	child.Close()
	root.Close()

	var ends int
	for _, e := range events {
		if e.t == End {
			ends++
		}
	}
	if ends != 2 {
		t.Fatalf("expected 2 End events, got %d", ends)
	}
	if last := events[len(events)-1]; last.t != End {
		t.Fatalf("expected final event to be End, got %v", last.t)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	var events []event
	root := NewRoot(Settings{Callback: record(&events), Verbosity: -1})
	root.Close()
	root.Close()

	var ends int
	for _, e := range events {
		if e.t == End {
			ends++
		}
	}
	if ends != 1 {
		t.Fatalf("expected a single End event, got %d", ends)
	}
}

func TestVerbosityFiltersDeepScopes(t *testing.T) {
	t.Parallel()

	var events []event
	root := NewRoot(Settings{Callback: record(&events), Verbosity: 1})
	root.Update(Percentage, 0, 50, "visible")
	child := root.Nest(0, 50, "boundary")
	child.Update(Percentage, 50, 0, "hidden")
	child.Close()
	root.Close()

	for _, e := range events {
		if e.nesting >= 1 {
			t.Fatalf("event from nesting level %d leaked through verbosity 1", e.nesting)
		}
	}
	if root.Active() != true {
		t.Fatalf("root should be active at verbosity 1")
	}
	if child.Active() {
		t.Fatalf("child at nesting 1 should be inactive at verbosity 1")
	}
}

func TestNilAndCallbacklessScopesAreInert(t *testing.T) {
	t.Parallel()

	var nilScope *Scope
	nilScope.Update(Percentage, 10, 10, "ignored")
	nilScope.Close()
	if nilScope.Active() {
		t.Fatalf("nil scope must be inactive")
	}

	quiet := NewRoot(Settings{})
	quiet.Update(Percentage, 10, 10, "ignored")
	child := quiet.Nest(10, 10, "ignored")
	child.Close()
	quiet.Close()
}
