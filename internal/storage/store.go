package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	metadataFile = "metadata.json"
	ticksFile    = "ticks.csv"
	fieldFile    = "field.csv"
)

var ErrRunNotFound = errors.New("storage: run not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

// RunMetadata describes one recorded run.
type RunMetadata struct {
	ID              string             `json:"id"`
	Name            string             `json:"name,omitempty"`
	Sensor          string             `json:"sensor"`
	Actuator        string             `json:"actuator"`
	Zones           int                `json:"zones"`
	Rows            int                `json:"rows"`
	Cols            int                `json:"cols"`
	Period          float64            `json:"period"`
	TemperatureMode bool               `json:"temperature_mode"`
	Started         time.Time          `json:"started"`
	Ended           time.Time          `json:"ended,omitempty"`
	Ticks           int                `json:"ticks"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
}

// NewRun creates a run directory with a fresh id and returns a recorder
// writing into it.
func (s *Store) NewRun(meta RunMetadata) (*Recorder, error) {
	if meta.Zones <= 0 {
		return nil, fmt.Errorf("storage: zones must be positive, got %d", meta.Zones)
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	meta.ID = uuid.NewString()
	if meta.Started.IsZero() {
		meta.Started = time.Now()
	}

	dir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := writeMetadata(dir, meta); err != nil {
		return nil, err
	}
	return newRecorder(dir, meta)
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := readMetadata(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Started.Before(runs[j].Started) })
	return runs, nil
}

// Load returns the metadata of a run. A unique id prefix is accepted.
func (s *Store) Load(runID string) (*RunMetadata, error) {
	dir, err := s.resolve(runID)
	if err != nil {
		return nil, err
	}
	return readMetadata(dir)
}

// TickLog is the parsed tick CSV of a run.
type TickLog struct {
	Header []string
	Rows   [][]float64
}

// Column returns the named column, or nil when absent.
func (l *TickLog) Column(name string) []float64 {
	idx := -1
	for i, h := range l.Header {
		if h == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]float64, 0, len(l.Rows))
	for _, r := range l.Rows {
		if idx < len(r) {
			out = append(out, r[idx])
		}
	}
	return out
}

func (s *Store) LoadTicks(runID string) (*TickLog, error) {
	dir, err := s.resolve(runID)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(dir, ticksFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	log := &TickLog{}
	if len(records) == 0 {
		return log, nil
	}
	log.Header = records[0]
	for _, rec := range records[1:] {
		row := make([]float64, len(rec))
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: column %s: %w", ticksFile, log.Header[min(j, len(log.Header)-1)], err)
			}
			row[j] = v
		}
		log.Rows = append(log.Rows, row)
	}
	return log, nil
}

func (s *Store) resolve(runID string) (string, error) {
	dir := filepath.Join(s.baseDir, runID)
	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err == nil {
		return dir, nil
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	var match string
	for _, e := range entries {
		if e.IsDir() && runID != "" && strings.HasPrefix(e.Name(), runID) {
			if match != "" {
				return "", fmt.Errorf("storage: run id %q is ambiguous", runID)
			}
			match = e.Name()
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return filepath.Join(s.baseDir, match), nil
}

func writeMetadata(dir string, meta RunMetadata) error {
	f, err := os.Create(filepath.Join(dir, metadataFile))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func readMetadata(dir string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
