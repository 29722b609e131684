package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/schema"
)

func testConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	runsDir := filepath.Join(dir, "runs")
	path := filepath.Join(dir, "parley.yaml")
	content := `
providers:
  primary: mock
  local: ""
  max_retries: 0
refiner:
  enabled: false
output:
  mode: none
log:
  format: text
  level: error
runs:
  dir: ` + runsDir + `
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path, runsDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestBuildGateway(t *testing.T) {
	cfg := config.Default()
	gw, err := buildGateway(cfg, events.New(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := gw.Primary().Name(); got != config.BackendGeminiCLI {
		t.Errorf("primary = %q", got)
	}

	cfg.Providers.Primary = "telegraph"
	if _, err := buildGateway(cfg, events.New(), nil); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestSay(t *testing.T) {
	path, runsDir := testConfig(t)
	envFile := filepath.Join(t.TempDir(), "none.env")

	out, err := execute(t, "--config", path, "--env-file", envFile,
		"say", "-y", "erkläre mir bitte wie das wetter morgen wird")
	if err != nil {
		t.Fatalf("say: %v\n%s", err, out)
	}
	if !strings.Contains(out, "echo: erkläre mir bitte wie das wetter morgen wird") {
		t.Errorf("output = %q", out)
	}

	entries, err := os.ReadDir(runsDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("runs = %v, err = %v", entries, err)
	}

	out, err = execute(t, "--config", path, "--env-file", envFile, "runs", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, entries[0].Name()) || !strings.Contains(out, "sent") {
		t.Errorf("runs list = %q", out)
	}
}

func TestListenWAV(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path, _ := testConfig(t)
	extra := `confirmation:
  enabled: false
stt:
  binary: sh
  args: ["-c", "test -s \"$0\" && echo 'erkläre mir bitte wie das wetter morgen wird'", "{file}"]
`
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(extra)
	f.Close()

	wav := filepath.Join(t.TempDir(), "utterance.wav")
	if err := audioio.WriteWAV(wav, make([]int16, 8000), 8000); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", path, "--env-file", filepath.Join(t.TempDir(), "none.env"),
		"listen", "--wav", wav)
	if err != nil {
		t.Fatalf("listen --wav: %v\n%s", err, out)
	}
	if !strings.Contains(out, "> erkläre mir bitte wie das wetter morgen wird") {
		t.Errorf("transcript missing: %q", out)
	}
	if !strings.Contains(out, "echo: erkläre mir bitte wie das wetter morgen wird") {
		t.Errorf("response missing: %q", out)
	}
}

func TestSayBlocked(t *testing.T) {
	path, _ := testConfig(t)
	envFile := filepath.Join(t.TempDir(), "none.env")

	_, err := execute(t, "--config", path, "--env-file", envFile, "say", "--no-runs", "rm -rf /")
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Errorf("err = %v, want blocked", err)
	}
}

func TestRunsPrune(t *testing.T) {
	path, runsDir := testConfig(t)
	envFile := filepath.Join(t.TempDir(), "none.env")

	for i, id := range []string{"run_1_aaaaaaaa", "run_2_bbbbbbbb", "run_3_cccccccc"} {
		dir := filepath.Join(runsDir, id)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		mtime := time.Now().Add(time.Duration(i-3) * time.Minute)
		os.Chtimes(dir, mtime, mtime)
	}

	out, err := execute(t, "--config", path, "--env-file", envFile, "runs", "prune", "--keep", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "removed 2 run(s)") {
		t.Errorf("prune output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(runsDir, "run_3_cccccccc")); err != nil {
		t.Errorf("newest run removed: %v", err)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	path, _ := testConfig(t)
	_, err := execute(t, "--config", path, "--env-file", filepath.Join(t.TempDir(), "none.env"),
		"--log-format", "xml", "runs", "list")
	if err == nil || !strings.Contains(err.Error(), "log.format") {
		t.Errorf("err = %v, want log.format validation error", err)
	}
}

func TestFormatEvent(t *testing.T) {
	ev := schema.RunEvent{
		Type:      events.RouterResult,
		RunID:     "run_1_abcdef01",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Data:      map[string]any{"route": "llm"},
	}
	line := formatEvent(ev)
	for _, want := range []string{"router.result", "run_1_abcdef01", `{"route":"llm"}`} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestLastLine(t *testing.T) {
	if got := lastLine("ctx\n\nUser: hallo"); got != "hallo" {
		t.Errorf("lastLine = %q", got)
	}
}
