package storage

import (
	"encoding/json"
	"io"
	"math"
)

// ExportData is the JSON form of a recorded run.
type ExportData struct {
	Run     RunMetadata           `json:"run"`
	Steps   int                   `json:"steps"`
	Columns map[string][]*float64 `json:"columns"`
}

// ExportJSON writes a run's metadata and tick log as indented JSON. NaN
// cells become null.
func (s *Store) ExportJSON(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	log, err := s.LoadTicks(meta.ID)
	if err != nil {
		return err
	}

	data := ExportData{
		Run:     *meta,
		Steps:   len(log.Rows),
		Columns: make(map[string][]*float64, len(log.Header)),
	}
	for _, name := range log.Header {
		col := log.Column(name)
		cells := make([]*float64, len(col))
		for i := range col {
			if !math.IsNaN(col[i]) {
				cells[i] = &col[i]
			}
		}
		data.Columns[name] = cells
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
