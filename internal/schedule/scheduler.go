// Package schedule replays a time-indexed table of per-zone values.
//
// A [Scheduler] consumes its [Table] destructively: once the elapsed time
// crosses the next row's threshold the front row is dropped. It never
// replays backward. Values are handed out as plain floats; whether they
// are temperature setpoints or flow commands is decided by the caller.
package schedule

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/coolrig/internal/rig"
)

type State int

const (
	Disabled State = iota
	Armed
	Advancing
	Exhausted
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Armed:
		return "armed"
	case Advancing:
		return "advancing"
	case Exhausted:
		return "exhausted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Scheduler struct {
	rows   []Row
	state  State
	popped int
	source string
}

// New arms a scheduler over a copy of t. A nil or empty table leaves it
// disabled.
func New(t *Table) *Scheduler {
	s := &Scheduler{}
	if t.Len() == 0 {
		return s
	}
	s.rows = t.Clone().Rows
	s.source = t.Source
	s.state = Armed
	if len(s.rows) == 1 {
		s.state = Exhausted
	}
	return s
}

func (s *Scheduler) State() State { return s.state }

// Active reports whether the scheduler currently overrides commands.
func (s *Scheduler) Active() bool { return s.state != Disabled }

// Popped is the number of rows consumed so far.
func (s *Scheduler) Popped() int { return s.popped }

// Remaining is the number of rows left, the current one included.
func (s *Scheduler) Remaining() int { return len(s.rows) }

func (s *Scheduler) Source() string { return s.source }

// Interval returns [start, end) of the current row; end is +Inf once
// exhausted.
func (s *Scheduler) Interval() (start, end float64) {
	switch len(s.rows) {
	case 0:
		return math.NaN(), math.NaN()
	case 1:
		return s.rows[0].Time, math.Inf(1)
	default:
		return s.rows[0].Time, s.rows[1].Time
	}
}

// Values returns a copy of the current row's values, or nil when disabled.
func (s *Scheduler) Values() []float64 {
	if len(s.rows) == 0 {
		return nil
	}
	out := make([]float64, len(s.rows[0].Values))
	copy(out, s.rows[0].Values)
	return out
}

// Value returns the current value for one zone.
func (s *Scheduler) Value(zone int) (float64, bool) {
	if len(s.rows) == 0 || zone < 0 || zone >= len(s.rows[0].Values) {
		return 0, false
	}
	return s.rows[0].Values[zone], true
}

// Advance drops the front row when elapsed has reached the next row's
// threshold. At most one row is consumed per call.
func (s *Scheduler) Advance(elapsed float64) bool {
	if s.state == Disabled || s.state == Exhausted {
		return false
	}
	if s.state == Advancing {
		s.state = Armed
	}
	if elapsed < s.rows[1].Time {
		return false
	}

	s.rows = s.rows[1:]
	s.popped++
	if len(s.rows) == 1 {
		s.state = Exhausted
	} else {
		s.state = Advancing
	}
	return true
}

// Disable drops the table.
func (s *Scheduler) Disable() {
	s.rows = nil
	s.state = Disabled
}

// Status is a display snapshot of the scheduler.
type Status struct {
	State     State
	Start     float64
	End       float64
	Values    []float64
	Remaining int
}

func (s *Scheduler) Status() Status {
	start, end := s.Interval()
	return Status{
		State:     s.state,
		Start:     start,
		End:       end,
		Values:    s.Values(),
		Remaining: len(s.rows),
	}
}

// StatusOf rebuilds a Status from the snapshot carried by a tick.
func StatusOf(s rig.ScheduleStatus) Status {
	st := Status{Start: s.Start, End: s.End, Values: s.Values, Remaining: s.Remaining}
	for _, c := range []State{Disabled, Armed, Advancing, Exhausted} {
		if c.String() == s.State {
			st.State = c
		}
	}
	return st
}

// IntervalLabel renders the current interval as "a --- b" or "a --- end".
func (st Status) IntervalLabel() string {
	if st.State == Disabled {
		return "---"
	}
	if math.IsInf(st.End, 1) {
		return fmt.Sprintf("%g --- end", st.Start)
	}
	return fmt.Sprintf("%g --- %g", st.Start, st.End)
}

func (st Status) ValuesLabel() string {
	parts := make([]string, len(st.Values))
	for i, v := range st.Values {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
