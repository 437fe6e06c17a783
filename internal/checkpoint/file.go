package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// fileState is the persisted document: partition id -> committed offset.
// JSON object keys are strings, so partition ids are encoded decimal.
type fileState struct {
	Offsets   map[string]int64 `json:"offsets"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// FileStore keeps all partition checkpoints in a single JSON file, written
// with temp-file + rename so a crash mid-save cannot corrupt it.
type FileStore struct {
	mu      sync.Mutex
	path    string
	offsets map[int32]int64
}

// NewFileStore opens (or initializes) a file-backed checkpoint store.
func NewFileStore(dir, filename string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	s := &FileStore{
		path:    filepath.Join(dir, filename),
		offsets: make(map[int32]int64),
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil // fresh start
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint file: %w", err)
	}
	for k, v := range state.Offsets {
		p, err := strconv.ParseInt(k, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad partition key %q in checkpoint file: %w", k, err)
		}
		s.offsets[int32(p)] = v
	}
	return s, nil
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, partition int32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	off, ok := s.offsets[partition]
	if !ok {
		return NoCheckpoint, nil
	}
	return off, nil
}

// Advance implements Store.
func (s *FileStore) Advance(_ context.Context, partition int32, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.offsets[partition]
	if had {
		if offset < prev {
			return fmt.Errorf("%w: partition %d stored %d, got %d", ErrRegression, partition, prev, offset)
		}
		if offset == prev {
			return nil
		}
	}

	s.offsets[partition] = offset
	if err := s.save(); err != nil {
		// Revert so a failed save is not reported as committed by Load.
		if had {
			s.offsets[partition] = prev
		} else {
			delete(s.offsets, partition)
		}
		return err
	}
	return nil
}

// save must be called with mu held.
func (s *FileStore) save() error {
	state := fileState{
		Offsets:   make(map[string]int64, len(s.offsets)),
		UpdatedAt: time.Now().UTC(),
	}
	for p, off := range s.offsets {
		state.Offsets[strconv.FormatInt(int64(p), 10)] = off
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
