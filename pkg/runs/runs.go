// Package runs persists per-run event logs, artifacts and summaries.
//
// Every pipeline execution gets a run id and a directory under the runs
// root holding an append-only events.jsonl, optional artifacts and a final
// summary.json. The oldest run directories are pruned beyond a cap.
package runs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/schema"
)

// DefaultMaxRuns is the retention cap used when none is configured.
const DefaultMaxRuns = 50

// File names inside a run directory.
const (
	EventsFile  = "events.jsonl"
	SummaryFile = "summary.json"
	AudioFile   = "audio.wav"
)

var (
	// ErrRunClosed is returned when writing to a run that has ended.
	ErrRunClosed = errors.New("runs: run already ended")

	// ErrInvalidName is returned for artifact names escaping the run directory.
	ErrInvalidName = errors.New("runs: invalid artifact name")
)

// Manager creates runs and routes bus events into their logs.
type Manager struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*Run
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a manager rooted at dir. The directory is created on
// the first run.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:    dir,
		now:    time.Now,
		logger: slog.Default(),
		active: make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "runs")
	return m
}

// Dir returns the runs root.
func (m *Manager) Dir() string { return m.dir }

// NewRunID returns an id of the form run_<unix>_<8 hex>.
func NewRunID(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("run_%d_%s", now.Unix(), hex[:8])
}

// Start opens a new run and creates its directory.
func (m *Manager) Start() (*Run, error) {
	started := m.now()
	id := NewRunID(started)
	dir := filepath.Join(m.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	r := &Run{
		id:      id,
		dir:     dir,
		started: started,
		manager: m,
	}

	m.mu.Lock()
	m.active[id] = r
	m.mu.Unlock()

	m.logger.Debug("run started", "run_id", id)
	return r, nil
}

// Get returns an active run by id.
func (m *Manager) Get(id string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.active[id]
	return r, ok
}

// Attach subscribes to every event on bus and appends those carrying the
// id of an active run to that run's log. It returns the subscription id.
func (m *Manager) Attach(bus *events.Bus) int {
	return bus.Subscribe(events.Wildcard, func(ev schema.RunEvent) {
		if ev.RunID == "" {
			return
		}
		r, ok := m.Get(ev.RunID)
		if !ok {
			return
		}
		if err := r.Log(ev); err != nil && !errors.Is(err, ErrRunClosed) {
			m.logger.Warn("append event failed", "run_id", ev.RunID, "error", err)
		}
	})
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// Info describes a persisted run.
type Info struct {
	ID       string    `json:"run_id"`
	Modified time.Time `json:"modified"`
	Summary  *Summary  `json:"summary,omitempty"`
}

// List returns persisted runs, newest first. A limit of zero or less
// returns all of them.
func (m *Manager) List(limit int) ([]Info, error) {
	entries, err := m.runDirs()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Modified.After(entries[j].Modified)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		if s, err := m.ReadSummary(entries[i].ID); err == nil {
			entries[i].Summary = s
		}
	}
	return entries, nil
}

// ReadSummary loads the summary of a finished run.
func (m *Manager) ReadSummary(id string) (*Summary, error) {
	b, err := os.ReadFile(filepath.Join(m.dir, id, SummaryFile))
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &s, nil
}

// Cleanup removes the oldest run directories, by modification time, until
// at most max remain. Active runs are never removed but count toward max. It returns the number
// of directories deleted.
func (m *Manager) Cleanup(max int) (int, error) {
	if max < 0 {
		max = 0
	}
	entries, err := m.runDirs()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Modified.Before(entries[j].Modified)
	})

	removed := 0
	for _, oldest := range entries {
		if len(entries)-removed <= max {
			break
		}
		if _, ok := m.Get(oldest.ID); ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.dir, oldest.ID)); err != nil {
			m.logger.Warn("remove run failed", "run_id", oldest.ID, "error", err)
			continue
		}
		removed++
		m.logger.Debug("run pruned", "run_id", oldest.ID)
	}
	return removed, nil
}

func (m *Manager) runDirs() ([]Info, error) {
	des, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(des))
	for _, de := range des {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), "run_") {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{ID: de.Name(), Modified: fi.ModTime()})
	}
	return out, nil
}
