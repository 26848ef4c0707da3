package schedule

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/coolrig/internal/rig"
)

func mustTable(t *testing.T, rows ...Row) *Table {
	t.Helper()
	tbl, err := NewTable(rows)
	require.NoError(t, err)
	return tbl
}

func TestScheduler_Scenario(t *testing.T) {
	s := New(mustTable(t,
		Row{Time: 0, Values: []float64{10, 20}},
		Row{Time: 5, Values: []float64{30, 40}},
	))

	require.Equal(t, Armed, s.State())
	assert.Equal(t, []float64{10, 20}, s.Values())
	start, end := s.Interval()
	assert.Equal(t, 0.0, start)
	assert.Equal(t, 5.0, end)

	assert.False(t, s.Advance(0))
	assert.False(t, s.Advance(4.9))

	assert.True(t, s.Advance(6))
	assert.Equal(t, []float64{30, 40}, s.Values())
	assert.Equal(t, Exhausted, s.State())
	start, end = s.Interval()
	assert.Equal(t, 5.0, start)
	assert.True(t, math.IsInf(end, 1))

	assert.False(t, s.Advance(1000))
	assert.Equal(t, []float64{30, 40}, s.Values())
}

func TestScheduler_MonotonicConsumption(t *testing.T) {
	rows := make([]Row, 0, 8)
	for i := 0; i < 8; i++ {
		rows = append(rows, Row{Time: float64(i * 10), Values: []float64{float64(i), float64(-i)}})
	}
	s := New(mustTable(t, rows...))

	for k := 1; k < len(rows); k++ {
		assert.True(t, s.Advance(rows[k].Time+0.5), "tick %d", k)
		assert.Equal(t, k, s.Popped())
		assert.Equal(t, rows[k].Values, s.Values())
	}
	assert.Equal(t, Exhausted, s.State())
}

func TestScheduler_OneRowPerTick(t *testing.T) {
	s := New(mustTable(t,
		Row{Time: 0, Values: []float64{1}},
		Row{Time: 1, Values: []float64{2}},
		Row{Time: 2, Values: []float64{3}},
	))

	assert.True(t, s.Advance(100))
	assert.Equal(t, 1, s.Popped())
	assert.Equal(t, []float64{2}, s.Values())
	assert.Equal(t, Advancing, s.State())

	assert.True(t, s.Advance(100))
	assert.Equal(t, Exhausted, s.State())
	assert.Equal(t, []float64{3}, s.Values())
}

func TestScheduler_AdvancingSettles(t *testing.T) {
	s := New(mustTable(t,
		Row{Time: 0, Values: []float64{1}},
		Row{Time: 1, Values: []float64{2}},
		Row{Time: 9, Values: []float64{3}},
	))
	s.Advance(1)
	assert.Equal(t, Advancing, s.State())
	s.Advance(2)
	assert.Equal(t, Armed, s.State())
}

func TestScheduler_DisabledStates(t *testing.T) {
	s := New(nil)
	assert.Equal(t, Disabled, s.State())
	assert.False(t, s.Active())
	assert.Nil(t, s.Values())
	assert.False(t, s.Advance(10))
	_, ok := s.Value(0)
	assert.False(t, ok)

	single := New(mustTable(t, Row{Time: 3, Values: []float64{7}}))
	assert.Equal(t, Exhausted, single.State())
	assert.Equal(t, "3 --- end", single.Status().IntervalLabel())

	single.Disable()
	assert.False(t, single.Active())
}

func TestScheduler_DoesNotAliasTable(t *testing.T) {
	tbl := mustTable(t,
		Row{Time: 0, Values: []float64{1}},
		Row{Time: 1, Values: []float64{2}},
	)
	s := New(tbl)
	s.Advance(5)
	assert.Equal(t, 2, tbl.Len())

	vals := s.Values()
	vals[0] = 99
	v, _ := s.Value(0)
	assert.Equal(t, 2.0, v)
}

func TestStatus_Labels(t *testing.T) {
	s := New(mustTable(t,
		Row{Time: 0, Values: []float64{10, 20}},
		Row{Time: 5, Values: []float64{30, 40}},
	))
	st := s.Status()
	assert.Equal(t, "0 --- 5", st.IntervalLabel())
	assert.Equal(t, "[10 20]", st.ValuesLabel())
	assert.Equal(t, 2, st.Remaining)
}

func TestStatusOf(t *testing.T) {
	st := StatusOf(rig.ScheduleStatus{State: "advancing", Start: 5, End: math.Inf(1), Values: []float64{1}})
	assert.Equal(t, Advancing, st.State)
	assert.Equal(t, "5 --- end", st.IntervalLabel())

	assert.Equal(t, "---", StatusOf(rig.ScheduleStatus{State: "disabled"}).IntervalLabel())
}

func TestParse(t *testing.T) {
	tbl, err := Parse(strings.NewReader("0, 10, 20\n5,30,40\n\n12.5,0,0\n"), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Zones())

	want := []Row{
		{Time: 0, Values: []float64{10, 20}},
		{Time: 5, Values: []float64{30, 40}},
		{Time: 12.5, Values: []float64{0, 0}},
	}
	if diff := cmp.Diff(want, tbl.Rows); diff != "" {
		t.Errorf("Parse() rows mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		zones int
		want  error
	}{
		{"empty", "", 2, ErrEmptyTable},
		{"not increasing", "0,1,2\n0,3,4\n", 2, ErrNotIncreasing},
		{"decreasing", "5,1,2\n1,3,4\n", 2, ErrNotIncreasing},
		{"wrong width", "0,1,2,3\n", 2, ErrRowWidth},
		{"ragged", "0,1,2\n1,3\n", 0, ErrRowWidth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), tt.zones)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Parse(strings.NewReader("0,abc\n"), 1)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	_, err := Load("", 2)
	assert.ErrorIs(t, err, ErrNoResource)

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"), 2)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "schedule.csv")
	require.NoError(t, os.WriteFile(path, []byte("0,10,20\n5,30,40\n"), 0644))
	tbl, err := Load(path, 2)
	require.NoError(t, err)
	assert.Equal(t, path, tbl.Source)
	assert.Equal(t, path, New(tbl).Source())
}
