package tts_test

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-parley/pkg/tts"
)

func TestMockSpeaker(t *testing.T) {
	mock := tts.NewMock(10 * time.Millisecond)
	ctx := context.Background()

	t.Run("Speak completes", func(t *testing.T) {
		if err := mock.Speak(ctx, "Hallo Welt", tts.ModeShort); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Calls are tracked", func(t *testing.T) {
		calls := mock.Calls()
		if len(calls) != 1 {
			t.Fatalf("expected 1 call, got %d", len(calls))
		}
		if calls[0].Text != "Hallo Welt" || calls[0].Mode != tts.ModeShort {
			t.Errorf("unexpected call: %+v", calls[0])
		}
	})

	t.Run("Stop interrupts playback", func(t *testing.T) {
		long := tts.NewMock(5 * time.Second)
		done := make(chan error, 1)
		go func() { done <- long.Speak(ctx, "lang", tts.ModeFull) }()

		time.Sleep(20 * time.Millisecond)
		long.Stop()

		select {
		case err := <-done:
			if !errors.Is(err, tts.ErrStopped) {
				t.Errorf("expected ErrStopped, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Stop did not interrupt playback")
		}
		if long.StopCount() != 1 {
			t.Errorf("StopCount() = %d, want 1", long.StopCount())
		}
	})

	t.Run("Reset clears calls", func(t *testing.T) {
		mock.Reset()
		if len(mock.Calls()) != 0 {
			t.Error("expected calls to be cleared")
		}
	})
}

func TestMockWithError(t *testing.T) {
	testErr := errors.New("test error")
	mock := tts.WithError(testErr)

	if err := mock.Speak(context.Background(), "Hallo", tts.ModeShort); !errors.Is(err, testErr) {
		t.Errorf("expected test error, got %v", err)
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	t.Run("requires at least one speaker", func(t *testing.T) {
		if _, err := tts.NewChain(); !errors.Is(err, tts.ErrProviderUnavailable) {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}
	})

	t.Run("falls back to second speaker", func(t *testing.T) {
		failing := tts.WithError(errors.New("boom"))
		ok := tts.NewMock(time.Millisecond)
		chain, _ := tts.NewChain(failing, ok)

		if err := chain.Speak(ctx, "Hallo", tts.ModeShort); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(ok.Calls()) != 1 {
			t.Error("fallback speaker was not used")
		}
	})

	t.Run("stop is not retried", func(t *testing.T) {
		first := tts.WithError(tts.ErrStopped)
		second := tts.NewMock(time.Millisecond)
		chain, _ := tts.NewChain(first, second)

		if err := chain.Speak(ctx, "Hallo", tts.ModeShort); !errors.Is(err, tts.ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
		if len(second.Calls()) != 0 {
			t.Error("stopped playback must not fall through")
		}
	})

	t.Run("aggregates errors", func(t *testing.T) {
		chain, _ := tts.NewChain(tts.WithError(errors.New("a")), tts.WithError(errors.New("b")))
		err := chain.Speak(ctx, "Hallo", tts.ModeShort)

		var chainErr *tts.ChainError
		if !errors.As(err, &chainErr) {
			t.Fatalf("expected ChainError, got %T", err)
		}
		if len(chainErr.Errors) != 2 {
			t.Errorf("expected 2 errors, got %d", len(chainErr.Errors))
		}
	})

	t.Run("Stop reaches the active speaker", func(t *testing.T) {
		long := tts.NewMock(5 * time.Second)
		chain, _ := tts.NewChain(long)
		done := make(chan error, 1)
		go func() { done <- chain.Speak(ctx, "lang", tts.ModeFull) }()

		time.Sleep(20 * time.Millisecond)
		chain.Stop()

		select {
		case err := <-done:
			if !errors.Is(err, tts.ErrStopped) {
				t.Errorf("expected ErrStopped, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("chain Stop did not interrupt playback")
		}
	})
}

func TestShorten(t *testing.T) {
	short := "Kurzer Text."
	if got := tts.Shorten(short, tts.ModeShort); got != short {
		t.Errorf("short text changed: %q", got)
	}

	sentence := strings.Repeat("a", 150) + ". " + strings.Repeat("b", 300)
	got := tts.Shorten(sentence, tts.ModeShort)
	if got != strings.Repeat("a", 150)+"." {
		t.Errorf("expected cut after first sentence, got %d runes", len([]rune(got)))
	}

	if got := tts.Shorten(sentence, tts.ModeFull); got != sentence {
		t.Error("full mode must not shorten")
	}

	noEnd := strings.Repeat("ü", 500)
	got = tts.Shorten(noEnd, tts.ModeShort)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != 303 {
		t.Errorf("expected hard cut at 300 runes plus ellipsis, got %d runes", len([]rune(got)))
	}
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecSpeaker(t *testing.T) {
	requireSh(t)
	ctx := context.Background()

	t.Run("runs to completion", func(t *testing.T) {
		s := tts.NewExec(tts.WithBinary("sh"), tts.WithArgs("-c", "cat > /dev/null"))
		if err := s.Speak(ctx, "Hallo", tts.ModeShort); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("text placeholder", func(t *testing.T) {
		s := tts.NewExec(tts.WithBinary("sh"), tts.WithArgs("-c", `test "$0" = "Hallo"`, "{text}"))
		if err := s.Speak(ctx, "Hallo", tts.ModeShort); err != nil {
			t.Fatalf("placeholder not substituted: %v", err)
		}
	})

	t.Run("Stop kills the process", func(t *testing.T) {
		s := tts.NewExec(tts.WithBinary("sh"), tts.WithArgs("-c", "exec sleep 10"))
		done := make(chan error, 1)
		go func() { done <- s.Speak(ctx, "Hallo", tts.ModeShort) }()

		time.Sleep(100 * time.Millisecond)
		if err := s.Stop(); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}

		select {
		case err := <-done:
			if !errors.Is(err, tts.ErrStopped) {
				t.Errorf("expected ErrStopped, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("process was not killed")
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		s := tts.NewExec(tts.WithBinary("/nonexistent/espeak-ng"))
		err := s.Speak(ctx, "Hallo", tts.ModeShort)
		if !errors.Is(err, tts.ErrProviderUnavailable) {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}
		if s.Available() {
			t.Error("missing binary reported available")
		}
	})

	t.Run("empty text is a no-op", func(t *testing.T) {
		s := tts.NewExec(tts.WithBinary("/nonexistent/espeak-ng"))
		if err := s.Speak(ctx, "   ", tts.ModeShort); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
