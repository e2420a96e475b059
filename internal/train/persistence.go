package train

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

type persistenceData struct {
	Trains []Train `json:"trains"`
}

// LoadTrains reads the known trains from path. A missing or unreadable file
// means no trains are known yet.
func LoadTrains(path string, logger *log.Logger) []Train {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Printf("Persistence: load %s (no existing file)", path)
		return nil
	}
	var data persistenceData
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.Printf("Persistence: load %s failed to parse: %v", path, err)
		return nil
	}
	trains := make([]Train, 0, len(data.Trains))
	for _, t := range data.Trains {
		if t.Address == "" {
			logger.Printf("Persistence: load %s skipping train without address", path)
			continue
		}
		if t.Ports == nil {
			t.Ports = make(map[int]Port)
		}
		trains = append(trains, t)
	}
	logger.Printf("Persistence: load %s -> %d trains", path, len(trains))
	return trains
}

// SaveTrains writes trains to path, replacing the previous file atomically.
func SaveTrains(path string, trains []Train, logger *log.Logger) error {
	if trains == nil {
		trains = []Train{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	raw, err := json.MarshalIndent(persistenceData{Trains: trains}, "", "  ")
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	logger.Printf("Persistence: save %s -> %d trains", path, len(trains))
	return nil
}
