package sensor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/coolrig/internal/rig"
)

func TestParseFixture_SkipsHeader(t *testing.T) {
	in := "temperature\n1,2,3\n4,5,6.004\n"
	fx, err := ParseFixture(strings.NewReader(in), 2, 3)
	if err != nil {
		t.Fatalf("ParseFixture: %v", err)
	}
	f, err := fx.ReadField(context.Background())
	if err != nil {
		t.Fatalf("ReadField: %v", err)
	}
	if f.Rows != 2 || f.Cols != 3 {
		t.Fatalf("shape = %dx%d, want 2x3", f.Rows, f.Cols)
	}
	want := []float64{1, 2, 3, 4, 5, 6}
	for i, v := range want {
		if f.Data[i] != v {
			t.Errorf("Data[%d] = %v, want %v", i, f.Data[i], v)
		}
	}
	if got := f.At(1, 0); got != 4 {
		t.Errorf("At(1,0) = %v, want 4", got)
	}
}

func TestParseFixture_SingleColumn(t *testing.T) {
	in := "t\n1\n2\n3\n4\n"
	fx, err := ParseFixture(strings.NewReader(in), 2, 2)
	if err != nil {
		t.Fatalf("ParseFixture: %v", err)
	}
	f, _ := fx.ReadField(context.Background())
	if f.At(1, 1) != 4 {
		t.Errorf("At(1,1) = %v, want 4", f.At(1, 1))
	}
}

func TestParseFixture_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"short", "h\n1,2,3\n", ErrNoFrames},
		{"ragged", "h\n1,2,3,4,5\n", rig.ErrResolution},
		{"header only", "h\n", ErrNoFrames},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixture(strings.NewReader(tt.in), 2, 2)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := ParseFixture(strings.NewReader("h\n1,x\n"), 1, 2); err == nil {
		t.Error("expected parse error for non-numeric cell")
	}
}

func TestFixture_ReplaysFrames(t *testing.T) {
	in := "h\n1,1\n2,2\n"
	fx, err := ParseFixture(strings.NewReader(in), 1, 2)
	if err != nil {
		t.Fatalf("ParseFixture: %v", err)
	}
	if fx.Frames() != 2 {
		t.Fatalf("Frames() = %d, want 2", fx.Frames())
	}
	ctx := context.Background()
	want := []float64{1, 2, 1}
	for i, w := range want {
		f, _ := fx.ReadField(ctx)
		if f.At(0, 0) != w {
			t.Errorf("read %d: %v, want %v", i, f.At(0, 0), w)
		}
	}
}

func TestFixture_ReturnsCopies(t *testing.T) {
	fx := Static(rig.NewField(1, 1))
	f, _ := fx.ReadField(context.Background())
	f.Set(0, 0, 99)
	g, _ := fx.ReadField(context.Background())
	if g.At(0, 0) != 0 {
		t.Error("fixture frame was mutated through a returned field")
	}
}

func TestFixture_CancelledContext(t *testing.T) {
	fx := Static(rig.NewField(1, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fx.ReadField(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "static.csv")
	if err := os.WriteFile(path, []byte("temperature\n20.5,21\n"), 0644); err != nil {
		t.Fatal(err)
	}
	fx, err := LoadFixture(path, 1, 2)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	f, _ := fx.ReadField(context.Background())
	if f.At(0, 0) != 20.5 {
		t.Errorf("At(0,0) = %v, want 20.5", f.At(0, 0))
	}

	if _, err := LoadFixture(filepath.Join(t.TempDir(), "missing.csv"), 1, 2); err == nil {
		t.Error("expected error for missing file")
	}
}
