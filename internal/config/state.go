package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/coolrig/internal/rig"
)

// State is the snapshot an operator saves to restart an experiment: the
// control mode, each region's boundary and, in temperature mode, its gains.
//
// The file is one "key: value" line per entry:
//
//	Temperature mode: True
//	Region 0: {'Region boundaries': [0, 16, 0, 24], 'PID gains': ['4.0', '0.8', '0.5']}
//
// which is also a valid YAML mapping, so it is parsed with yaml.v3.
type State struct {
	TemperatureMode bool
	Regions         []RegionState
}

type RegionState struct {
	Boundary rig.Boundary
	// Gains is nil when the snapshot was taken in manual mode.
	Gains *rig.Gains
}

const (
	keyMode       = "Temperature mode"
	keyRegion     = "Region %d"
	keyBoundaries = "Region boundaries"
	keyGains      = "PID gains"
)

// StateOf captures a configuration. Gains are kept only in temperature
// mode.
func StateOf(cfg *Config) State {
	st := State{TemperatureMode: cfg.Control.TemperatureMode}
	for _, r := range cfg.Regions {
		rs := RegionState{Boundary: rig.BoundaryFrom(r.Boundary)}
		if st.TemperatureMode {
			g := r.Gains
			rs.Gains = &g
		}
		st.Regions = append(st.Regions, rs)
	}
	return st
}

// Apply writes the snapshot onto cfg. Regions beyond cfg's zone count are
// ignored.
func (s State) Apply(cfg *Config) error {
	if len(s.Regions) < cfg.Zones {
		return fmt.Errorf("state has %d regions, config needs %d", len(s.Regions), cfg.Zones)
	}
	cfg.Control.TemperatureMode = s.TemperatureMode
	for i := range cfg.Regions {
		cfg.Regions[i].Boundary = s.Regions[i].Boundary.Array()
		if s.Regions[i].Gains != nil {
			cfg.Regions[i].Gains = *s.Regions[i].Gains
		}
	}
	return nil
}

func WriteState(w io.Writer, s State) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s: %s\n", keyMode, titleBool(s.TemperatureMode))
	for i, r := range s.Regions {
		b := r.Boundary.Array()
		fmt.Fprintf(bw, "%s: {'%s': [%d, %d, %d, %d]", fmt.Sprintf(keyRegion, i), keyBoundaries, b[0], b[1], b[2], b[3])
		if r.Gains != nil {
			fmt.Fprintf(bw, ", '%s': ['%s', '%s', '%s']", keyGains,
				decimal(r.Gains.Kp), decimal(r.Gains.Ki), decimal(r.Gains.Kd))
		}
		bw.WriteString("}\n")
	}
	return bw.Flush()
}

func ReadState(r io.Reader) (State, error) {
	var doc map[string]yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return State{}, fmt.Errorf("state: empty file")
		}
		return State{}, fmt.Errorf("state: %w", err)
	}

	var st State
	mode, ok := doc[keyMode]
	if !ok {
		return State{}, fmt.Errorf("state: missing %q", keyMode)
	}
	if err := mode.Decode(&st.TemperatureMode); err != nil {
		return State{}, fmt.Errorf("state: %s: %w", keyMode, err)
	}

	for i := 0; ; i++ {
		key := fmt.Sprintf(keyRegion, i)
		node, ok := doc[key]
		if !ok {
			break
		}
		var raw struct {
			Boundaries []int    `yaml:"Region boundaries"`
			Gains      []string `yaml:"PID gains"`
		}
		if err := node.Decode(&raw); err != nil {
			return State{}, fmt.Errorf("state: %s: %w", key, err)
		}
		if len(raw.Boundaries) != 4 {
			return State{}, fmt.Errorf("state: %s: want 4 boundaries, got %d", key, len(raw.Boundaries))
		}
		rs := RegionState{Boundary: rig.BoundaryFrom([4]int(raw.Boundaries))}
		if raw.Gains != nil {
			g, err := parseGains(raw.Gains)
			if err != nil {
				return State{}, fmt.Errorf("state: %s: %w", key, err)
			}
			rs.Gains = &g
		}
		st.Regions = append(st.Regions, rs)
	}
	if len(st.Regions) == 0 {
		return State{}, fmt.Errorf("state: no regions")
	}
	return st, nil
}

func SaveState(path string, s State) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteState(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func LoadState(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, err
	}
	defer f.Close()
	return ReadState(f)
}

func parseGains(s []string) (rig.Gains, error) {
	if len(s) != 3 {
		return rig.Gains{}, fmt.Errorf("want 3 gains, got %d", len(s))
	}
	var v [3]float64
	for i, text := range s {
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return rig.Gains{}, fmt.Errorf("gain %d: %w", i, err)
		}
		v[i] = f
	}
	return rig.Gains{Kp: v[0], Ki: v[1], Kd: v[2]}, nil
}

func titleBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// decimal formats v with at least one fractional digit.
func decimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
