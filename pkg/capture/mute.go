package capture

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// PactlMuted reports whether PulseAudio/PipeWire lists the default source
// as muted. Any failure to run pactl counts as not muted.
func PactlMuted(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "pactl", "get-source-mute", "@DEFAULT_SOURCE@").Output()
	if err != nil {
		return false
	}
	return bytes.Contains(out, []byte("yes"))
}
