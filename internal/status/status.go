// Package status implements nested progress reporting for long engine
// operations.
//
// A Scope is one region of work. Nesting a child scope hands it a share of the
// parent's remaining percentage range, so the overall progress broadcast to
// the callback composes across arbitrarily deep call trees. Scopes must be
// closed; Close fires a final End update at 100%.
package status

// ProgressType classifies a single progress update.
type ProgressType int

const (
	Start ProgressType = iota
	End
	Percentage
	Unbounded
	Warning
)

func (t ProgressType) String() string {
	switch t {
	case Start:
		return "START"
	case End:
		return "END"
	case Percentage:
		return "PERCENTAGE"
	case Unbounded:
		return "UNBOUNDED"
	case Warning:
		return "WARNING"
	default:
		return "UNKNOWN"
	}
}

// Callback receives every update that passes the verbosity filter.
// processProgress is the scope-local percentage, overallProgress the
// composed top-level percentage.
type Callback func(t ProgressType, processProgress, overallProgress, sizeOfJob float64, nestingLevel int, info string)

// Settings configure callback delivery. Verbosity -1 reports every nesting
// level; otherwise updates from scopes at nestingLevel >= Verbosity are
// dropped.
type Settings struct {
	Callback  Callback
	Verbosity int
}

type update struct {
	t         ProgressType
	progress  float64
	sizeOfJob float64
}

// Scope is one nested progress-reporting region. The zero value is inert:
// updates on a Scope with no callback are no-ops, so callers never need to
// check whether progress reporting is enabled.
type Scope struct {
	parent   *Scope
	settings Settings
	nesting  int
	last     update
	closed   bool
}

// NewRoot creates a top-level scope.
func NewRoot(settings Settings) *Scope {
	return &Scope{settings: settings}
}

// Active reports whether updates from this scope reach the callback. Callers
// use it to skip building expensive info strings.
func (s *Scope) Active() bool {
	if s == nil || s.settings.Callback == nil {
		return false
	}
	return s.nesting < s.settings.Verbosity || s.settings.Verbosity == -1
}

// Update records and broadcasts one progress event.
func (s *Scope) Update(t ProgressType, progress, sizeOfJob float64, info string) {
	if s == nil || s.settings.Callback == nil || s.closed {
		return
	}
	if s.nesting >= s.settings.Verbosity && s.settings.Verbosity != -1 {
		return
	}
	s.last = update{t: t, progress: progress, sizeOfJob: sizeOfJob}
	overall, _ := s.compose()
	s.settings.Callback(t, progress, overall, sizeOfJob, s.nesting, info)
}

// Nest records an update and opens a child scope occupying sizeOfJob percent
// of this scope's range, starting at progress. The child fires a Start update
// immediately and must be closed by the caller.
func (s *Scope) Nest(progress, sizeOfJob float64, info string) *Scope {
	if s == nil {
		return nil
	}
	s.Update(Percentage, progress, sizeOfJob, info)
	child := &Scope{
		parent:   s,
		settings: s.settings,
		nesting:  s.nesting + 1,
	}
	child.Update(Start, 0, 0, "Starting Process")
	return child
}

// Close fires the final End update at 100%. Closing twice is harmless.
func (s *Scope) Close() {
	if s == nil || s.closed {
		return
	}
	s.Update(End, 100, 0, "Process complete.")
	s.closed = true
}

// compose walks up the parent chain scaling local progress into the top-level
// percentage range.
func (s *Scope) compose() (progress, scale float64) {
	if s.parent == nil {
		return s.last.progress, s.last.sizeOfJob / 100
	}
	parentProgress, parentScale := s.parent.compose()
	return parentProgress + s.last.progress*parentScale, (s.last.sizeOfJob / 100) * parentScale
}
