package stt

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

func TestCleanTranscript(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{" hallo welt ", "hallo welt"},
		{"[BLANK_AUDIO]", ""},
		{"(Musik) öffne den editor\n", "öffne den editor"},
		{"*räuspert* ja", "ja"},
	}
	for _, tt := range tests {
		if got := CleanTranscript(tt.in); got != tt.want {
			t.Errorf("CleanTranscript(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewWhisperCLI_RequiresModel(t *testing.T) {
	if _, err := NewWhisperCLI(Config{}, nil); !errors.Is(err, ErrNoModel) {
		t.Errorf("expected ErrNoModel, got %v", err)
	}
}

func TestWhisperCLI_Args(t *testing.T) {
	w, err := NewWhisperCLI(Config{Model: "/models/ggml-base.bin"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	args := w.args("/tmp/a.wav", "de")
	want := []string{"-m", "/models/ggml-base.bin", "-l", "de", "-t", "4", "-nt", "-np", "-f", "/tmp/a.wav"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestWhisperCLI_Transcribe(t *testing.T) {
	requireSh(t)

	w, err := NewWhisperCLI(Config{
		Binary: "sh",
		Args:   []string{"-c", `test -s "$0" && test "$1" = "de" && echo " [BLANK_AUDIO] hallo welt "`, "{file}", "{lang}"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	samples := make([]int16, 4800)
	text, err := w.Transcribe(context.Background(), samples, 48000, "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hallo welt" {
		t.Errorf("text = %q, want %q", text, "hallo welt")
	}
}

func TestWhisperCLI_Empty(t *testing.T) {
	w, _ := NewWhisperCLI(Config{Binary: "/nonexistent", Args: []string{"{file}"}}, nil)
	text, err := w.Transcribe(context.Background(), nil, 16000, "de")
	if err != nil || text != "" {
		t.Errorf("empty audio: text=%q err=%v", text, err)
	}
}

func TestWhisperCLI_Failures(t *testing.T) {
	requireSh(t)
	samples := make([]int16, 160)

	t.Run("missing binary", func(t *testing.T) {
		w, _ := NewWhisperCLI(Config{Binary: "/nonexistent/whisper-cli", Args: []string{"{file}"}}, nil)
		if _, err := w.Transcribe(context.Background(), samples, 16000, "de"); !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("non-zero exit", func(t *testing.T) {
		w, _ := NewWhisperCLI(Config{Binary: "sh", Args: []string{"-c", "echo kaputt >&2; exit 2"}}, nil)
		_, err := w.Transcribe(context.Background(), samples, 16000, "de")
		if err == nil {
			t.Fatal("expected error")
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			t.Errorf("expected wrapped ExitError, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		w, _ := NewWhisperCLI(Config{Binary: "sh", Args: []string{"-c", "exec sleep 10"}, Timeout: 100 * time.Millisecond}, nil)
		start := time.Now()
		_, err := w.Transcribe(context.Background(), samples, 16000, "de")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
		if time.Since(start) > 2*time.Second {
			t.Error("timeout did not kill the process")
		}
	})
}

func TestMock(t *testing.T) {
	m := NewMock("eins", "zwei")
	ctx := context.Background()

	for _, want := range []string{"eins", "zwei", "zwei"} {
		got, err := m.Transcribe(ctx, nil, 16000, "de")
		if err != nil || got != want {
			t.Errorf("Transcribe() = %q, %v; want %q", got, err, want)
		}
	}
	if m.CallCount() != 3 {
		t.Errorf("CallCount() = %d, want 3", m.CallCount())
	}

	silent := NewMock()
	if got, _ := silent.Transcribe(ctx, nil, 16000, "de"); got != "" {
		t.Errorf("silent mock returned %q", got)
	}

	boom := errors.New("boom")
	if _, err := WithError(boom).Transcribe(ctx, nil, 16000, "de"); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}
