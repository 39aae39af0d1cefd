package keeper

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const maxRecords = 10

// CycleRecord captures what happened in a single keeper cycle.
type CycleRecord struct {
	Tick    uint64             `json:"tick"`
	SimTime string             `json:"sim_time"`
	Action  string             `json:"action"`
	Level   string             `json:"level"`
	Honey   map[string]float64 `json:"honey"` // By colony ID
}

// CycleMemory keeps the most recent cycle records.
type CycleMemory struct {
	Records []CycleRecord `json:"records"`
}

// LoadMemory reads the memory file. A missing file gives empty memory.
func LoadMemory(path string) (*CycleMemory, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &CycleMemory{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keeper memory: %w", err)
	}
	var mem CycleMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		return nil, fmt.Errorf("parse keeper memory: %w", err)
	}
	return &mem, nil
}

// Save writes the memory to path.
func (m *CycleMemory) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keeper memory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write keeper memory: %w", err)
	}
	return nil
}

// Record adds a cycle record, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// Last returns the newest record, or nil.
func (m *CycleMemory) Last() *CycleRecord {
	if len(m.Records) == 0 {
		return nil
	}
	return &m.Records[len(m.Records)-1]
}
