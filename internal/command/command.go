// Package command runs the external tools the pipeline depends on (ffmpeg,
// yt-dlp and the model scripts).
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes external commands and returns stdout bytes.
type Runner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// Exec is the default Runner. A failing command's stderr is folded into the
// returned error.
func Exec(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		if msg != "" {
			return out, fmt.Errorf("%s: %w: %s", binary, err, msg)
		}
		return out, fmt.Errorf("%s: %w", binary, err)
	}
	return out, nil
}

// Script splits a configured model command such as "python3 detect.py" into
// the binary and its leading arguments.
func Script(commandLine string) (string, []string) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
