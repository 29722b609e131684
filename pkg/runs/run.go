package runs

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/schema"
)

// Summary is written to summary.json when a run ends.
type Summary struct {
	RunID      string         `json:"run_id"`
	DurationS  float64        `json:"duration_s"`
	EventCount int            `json:"event_count"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	Outcome    string         `json:"outcome,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Run is one correlated pipeline execution with its own directory.
type Run struct {
	id      string
	dir     string
	started time.Time
	manager *Manager

	mu     sync.Mutex
	count  int
	closed bool
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Dir returns the run directory.
func (r *Run) Dir() string { return r.dir }

// StartedAt returns when the run was opened.
func (r *Run) StartedAt() time.Time { return r.started }

// EventCount returns the number of events logged so far.
func (r *Run) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Log appends ev as one JSON line to events.jsonl.
func (r *Run) Log(ev schema.RunEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunClosed
	}

	f, err := os.OpenFile(filepath.Join(r.dir, EventsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	r.count++
	return nil
}

// SaveArtifact writes data under name in the run directory. Byte slices
// and strings are written as-is; anything else is encoded as indented JSON.
func (r *Run) SaveArtifact(name string, data any) (string, error) {
	path, err := r.artifactPath(name)
	if err != nil {
		return "", err
	}

	var b []byte
	switch v := data.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		b, err = json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode artifact: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// SaveAudio writes mono 16-bit samples as a WAV file. An empty name
// defaults to audio.wav.
func (r *Run) SaveAudio(name string, samples []int16, sampleRate int) (string, error) {
	if name == "" {
		name = AudioFile
	}
	path, err := r.artifactPath(name)
	if err != nil {
		return "", err
	}
	if err := audioio.WriteWAV(path, samples, sampleRate); err != nil {
		return "", err
	}
	return path, nil
}

// End writes summary.json and closes the run. Further writes fail with
// ErrRunClosed.
func (r *Run) End(outcome string, extra map[string]any) (*Summary, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRunClosed
	}
	r.closed = true
	count := r.count
	r.mu.Unlock()

	r.manager.release(r.id)

	ended := r.manager.now()
	s := &Summary{
		RunID:      r.id,
		DurationS:  math.Round(ended.Sub(r.started).Seconds()*100) / 100,
		EventCount: count,
		StartedAt:  r.started,
		EndedAt:    ended,
		Outcome:    outcome,
		Extra:      extra,
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return s, fmt.Errorf("encode summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.dir, SummaryFile), b, 0o644); err != nil {
		return s, err
	}
	r.manager.logger.Debug("run ended", "run_id", r.id, "events", count, "outcome", outcome)
	return s, nil
}

func (r *Run) artifactPath(name string) (string, error) {
	clean := filepath.Clean(name)
	if name == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", ErrInvalidName
	}
	return filepath.Join(r.dir, clean), nil
}
