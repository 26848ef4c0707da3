package tui

import (
	"reflect"
	"testing"
)

func TestRing(t *testing.T) {
	tests := []struct {
		name string
		cap  int
		push []float64
		want []float64
	}{
		{"empty", 3, nil, []float64{}},
		{"partial", 3, []float64{1, 2}, []float64{1, 2}},
		{"full", 3, []float64{1, 2, 3}, []float64{1, 2, 3}},
		{"wrapped", 3, []float64{1, 2, 3, 4, 5}, []float64{3, 4, 5}},
		{"zero capacity holds one", 0, []float64{1, 2}, []float64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRing(tt.cap)
			for _, v := range tt.push {
				r.Push(v)
			}
			if got := r.Values(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Values() = %v, want %v", got, tt.want)
			}
			if r.Len() != len(tt.want) {
				t.Errorf("Len() = %d, want %d", r.Len(), len(tt.want))
			}
		})
	}
}

func TestRing_Last(t *testing.T) {
	r := NewRing(2)
	if _, ok := r.Last(); ok {
		t.Error("empty ring reported a last value")
	}
	for _, v := range []float64{1, 2, 3} {
		r.Push(v)
	}
	if v, ok := r.Last(); !ok || v != 3 {
		t.Errorf("Last() = %v, %v, want 3, true", v, ok)
	}
}

func TestRing_Resize(t *testing.T) {
	r := NewRing(4)
	for _, v := range []float64{1, 2, 3, 4, 5, 6} {
		r.Push(v)
	}

	r.Resize(2)
	if got := r.Values(); !reflect.DeepEqual(got, []float64{5, 6}) {
		t.Errorf("after shrink Values() = %v, want [5 6]", got)
	}

	r.Resize(4)
	r.Push(7)
	if got := r.Values(); !reflect.DeepEqual(got, []float64{5, 6, 7}) {
		t.Errorf("after grow Values() = %v, want [5 6 7]", got)
	}
	if r.Cap() != 4 {
		t.Errorf("Cap() = %d, want 4", r.Cap())
	}

	r.Clear()
	if r.Len() != 0 {
		t.Errorf("Len() after Clear = %d", r.Len())
	}
}
