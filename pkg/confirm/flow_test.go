package confirm

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/schema"
)

type recorder struct {
	mu     sync.Mutex
	spoken []string
}

func (r *recorder) speak(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spoken = append(r.spoken, text)
	return nil
}

func (r *recorder) all() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.spoken, "\n")
}

func refined(text string) schema.RefinerResult {
	return schema.RefinerResult{Intent: "test", ImprovedText: text, Action: schema.ActionSend}
}

func testConfig() Config {
	return Config{Enabled: true, Timeout: 200 * time.Millisecond, Readback: true}
}

func TestFlowSendOnFirstAnswer(t *testing.T) {
	bus := events.New()
	rec := &recorder{}
	listen := func(ctx context.Context) (string, error) { return "ja", nil }

	f := New(bus, rec.speak, listen, testConfig(), nil)
	got, err := f.Run(context.Background(), refined("X"), "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if got != schema.OutcomeSend {
		t.Errorf("outcome = %q, want send", got)
	}
	if !strings.Contains(rec.all(), "verbesserte Version: X") {
		t.Errorf("readback missing: %q", rec.all())
	}
	if f.State() != string(schema.OutcomeSend) {
		t.Errorf("state = %q", f.State())
	}

	var responses int
	for _, ev := range bus.ForRun("run_1") {
		if ev.Type == events.ConfirmationResponse {
			responses++
			if ev.Data["action"] != "send" || ev.Data["text"] != "ja" {
				t.Errorf("unexpected response event: %v", ev.Data)
			}
		}
	}
	if responses != 1 {
		t.Errorf("confirmation.response events = %d, want 1", responses)
	}
}

func TestFlowCancelsAfterTwoSilentListens(t *testing.T) {
	rec := &recorder{}
	var listens atomic.Int32
	listen := func(ctx context.Context) (string, error) {
		listens.Add(1)
		return "", nil
	}

	f := New(events.New(), rec.speak, listen, testConfig(), nil)
	start := time.Now()
	got, _ := f.Run(context.Background(), refined("X"), "")

	if got != schema.OutcomeCancel {
		t.Errorf("outcome = %q, want cancel", got)
	}
	if listens.Load() < 2 {
		t.Errorf("listen called %d times, want >= 2", listens.Load())
	}
	if time.Since(start) > 2*testConfig().Timeout+time.Second {
		t.Error("flow exceeded two listen cycles")
	}
	spoken := rec.all()
	if !strings.Contains(spoken, RetryPrompt) || !strings.HasSuffix(spoken, CancelNotice) {
		t.Errorf("unexpected prompts: %q", spoken)
	}
}

func TestFlowTimesOutBlockingListener(t *testing.T) {
	var cancelled atomic.Int32
	listen := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		cancelled.Add(1)
		return "", ctx.Err()
	}

	bus := events.New()
	f := New(bus, nil, listen, Config{Timeout: 50 * time.Millisecond}, nil)
	got, _ := f.Run(context.Background(), refined("X"), "r")

	if got != schema.OutcomeCancel {
		t.Errorf("outcome = %q, want cancel", got)
	}
	// Each listener is aborted once its cycle is decided.
	deadline := time.Now().Add(time.Second)
	for cancelled.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if cancelled.Load() != 2 {
		t.Errorf("cancelled listeners = %d, want 2", cancelled.Load())
	}

	last := bus.ForRun("r")
	ev := last[len(last)-1]
	if ev.Type != events.ConfirmationResponse || ev.Data["reason"] != "timeout" {
		t.Errorf("last event = %+v", ev)
	}
}

func TestFlowRetryRecognizesSecondAnswer(t *testing.T) {
	var n atomic.Int32
	listen := func(ctx context.Context) (string, error) {
		if n.Add(1) == 1 {
			return "hmm keine ahnung", nil
		}
		return "nochmal", nil
	}
	f := New(nil, nil, listen, testConfig(), nil)
	got, _ := f.Run(context.Background(), refined("X"), "")
	if got != schema.OutcomeRedo {
		t.Errorf("outcome = %q, want redo", got)
	}
}

func TestFlowOverrideWinsRace(t *testing.T) {
	bus := events.New()
	listen := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f := New(bus, nil, listen, Config{Timeout: 5 * time.Second}, nil)

	go func() {
		for !f.Pending() {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		f.SetOverride(schema.OutcomeEdit)
	}()

	start := time.Now()
	got, _ := f.Run(context.Background(), refined("X"), "r")
	if got != schema.OutcomeEdit {
		t.Errorf("outcome = %q, want edit", got)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("override did not resolve the wait")
	}

	evs := bus.ForRun("r")
	last := evs[len(evs)-1]
	if last.Data["source"] != "ui" {
		t.Errorf("last event = %+v", last)
	}
}

func TestSetOverrideRejectsInvalid(t *testing.T) {
	f := New(nil, nil, nil, testConfig(), nil)
	if f.SetOverride(schema.OutcomeNone) {
		t.Error("OutcomeNone is not a valid override")
	}
	if !f.SetOverride(schema.OutcomeSend) {
		t.Error("first override should be queued")
	}
	if f.SetOverride(schema.OutcomeCancel) {
		t.Error("second override should be rejected while one is queued")
	}
}

func TestFlowStaleOverrideIsDropped(t *testing.T) {
	listen := func(ctx context.Context) (string, error) { return "stop", nil }
	f := New(nil, nil, listen, testConfig(), nil)
	f.SetOverride(schema.OutcomeSend)

	got, _ := f.Run(context.Background(), refined("X"), "")
	if got != schema.OutcomeCancel {
		t.Errorf("outcome = %q, want cancel from speech", got)
	}
}

func TestFlowStateChanges(t *testing.T) {
	bus := events.New()
	listen := func(ctx context.Context) (string, error) { return "abschicken", nil }
	f := New(bus, nil, listen, testConfig(), nil)
	f.Run(context.Background(), refined("X"), "r")

	var states []string
	for _, ev := range bus.ForRun("r") {
		if ev.Type == events.StateChange {
			states = append(states, ev.Data["new"].(string))
		}
	}
	want := []string{"readback", "awaiting_response", "send"}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Errorf("states = %v, want %v", states, want)
	}

	f.Reset()
	if f.State() != string(schema.PhaseIdle) {
		t.Errorf("state after reset = %q", f.State())
	}
}

func TestFlowReadbackDisabled(t *testing.T) {
	rec := &recorder{}
	listen := func(ctx context.Context) (string, error) { return "ja", nil }
	cfg := testConfig()
	cfg.Readback = false

	New(nil, rec.speak, listen, cfg, nil).Run(context.Background(), refined("X"), "")
	if strings.Contains(rec.all(), ReadbackPrefix) {
		t.Errorf("readback spoken although disabled: %q", rec.all())
	}
}

func TestFlowBusy(t *testing.T) {
	release := make(chan struct{})
	listen := func(ctx context.Context) (string, error) {
		<-release
		return "ja", nil
	}
	f := New(nil, nil, listen, Config{Timeout: 5 * time.Second}, nil)

	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), refined("X"), "")
		close(done)
	}()
	for !f.Pending() {
		time.Sleep(time.Millisecond)
	}

	if _, err := f.Run(context.Background(), refined("Y"), ""); err != ErrFlowBusy {
		t.Errorf("second Run = %v, want ErrFlowBusy", err)
	}
	close(release)
	<-done
}
