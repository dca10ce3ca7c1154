package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
	"github.com/hugo-lorenzo-mato/marketflow/internal/fsutil"
)

const envelopeVersion = 1

// JSONStateManager stores one checksummed JSON file per run under a directory.
type JSONStateManager struct {
	dir string
	mu  sync.RWMutex
}

// NewJSONStateManager creates a JSON state manager rooted at dir.
func NewJSONStateManager(dir string) (*JSONStateManager, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &JSONStateManager{dir: dir}, nil
}

// stateEnvelope wraps a snapshot with integrity metadata.
type stateEnvelope struct {
	Version   int            `json:"version"`
	Checksum  string         `json:"checksum"`
	UpdatedAt time.Time      `json:"updated_at"`
	State     *core.Snapshot `json:"state"`
}

func (m *JSONStateManager) path(id core.RunID) (string, error) {
	s := string(id)
	if s == "" || strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return "", core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("invalid run id %q", s))
	}
	return filepath.Join(m.dir, s+".json"), nil
}

// Save persists the snapshot atomically, keeping the previous version as a backup.
func (m *JSONStateManager) Save(_ context.Context, snap *core.Snapshot) error {
	if snap == nil {
		return core.ErrValidation(core.CodeInvalidConfig, "nil snapshot")
	}
	path, err := m.path(snap.RequestID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading previous state: %w", err)
		}
		if err := fsutil.WriteFileAtomic(path+".bak", data, 0o644); err != nil {
			return fmt.Errorf("creating backup: %w", err)
		}
	}

	checksum, err := snapshotChecksum(snap)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stateEnvelope{
		Version:   envelopeVersion,
		Checksum:  checksum,
		UpdatedAt: time.Now().UTC(),
		State:     snap,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// Load returns the run snapshot, falling back to the backup when the
// primary file is unreadable or fails verification.
func (m *JSONStateManager) Load(_ context.Context, id core.RunID) (*core.Snapshot, error) {
	path, err := m.path(id)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, core.ErrNotFound("run", string(id))
	}

	snap, err := loadFromPath(path)
	if err != nil {
		backup, backupErr := loadFromPath(path + ".bak")
		if backupErr != nil {
			return nil, fmt.Errorf("loading state: %w (backup also failed: %v)", err, backupErr)
		}
		return backup, nil
	}
	return snap, nil
}

func loadFromPath(path string) (*core.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	var env stateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	if env.State == nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "envelope has no state")
	}

	checksum, err := snapshotChecksum(env.State)
	if err != nil {
		return nil, err
	}
	if checksum != env.Checksum {
		return nil, core.ErrState(core.CodeStateCorrupted, "checksum mismatch")
	}
	if err := env.State.Validate(); err != nil {
		return nil, err
	}
	return env.State, nil
}

// List returns every readable run, newest first. Unreadable files are skipped.
func (m *JSONStateManager) List(_ context.Context) ([]core.RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("reading state directory: %w", err)
	}

	summaries := make([]core.RunSummary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		snap, err := loadFromPath(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		summaries = append(summaries, core.Summarize(snap))
	}
	sortSummaries(summaries)
	return summaries, nil
}

// Delete removes a run and its backup.
func (m *JSONStateManager) Delete(_ context.Context, id core.RunID) error {
	path, err := m.path(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.ErrNotFound("run", string(id))
		}
		return fmt.Errorf("removing state file: %w", err)
	}
	if err := os.Remove(path + ".bak"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing backup: %w", err)
	}
	return nil
}

// Close is a no-op for file storage.
func (m *JSONStateManager) Close() error {
	return nil
}

func snapshotChecksum(snap *core.Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshaling state for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func sortSummaries(s []core.RunSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].StartedAt.Equal(s[j].StartedAt) {
			return s[i].RunID < s[j].RunID
		}
		return s[i].StartedAt.After(s[j].StartedAt)
	})
}
