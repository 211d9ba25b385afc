package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// StreamFrom re-encodes path to MP3 starting at offset seconds and writes the
// result to w while ffmpeg produces it. It is used for seeking clients that
// cannot issue byte ranges.
func (p *FFmpegProcessor) StreamFrom(ctx context.Context, path string, offset float64, w io.Writer) error {
	args := []string{"-v", "error", "-nostdin"}
	if offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(offset, 'f', 3, 64))
	}
	args = append(args,
		"-i", path,
		"-vn",
		"-f", "mp3",
		"-acodec", "libmp3lame",
		"-b:a", "192k",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stdout = w
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return &ProcessError{Name: p.ffmpegPath, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return fmt.Errorf("ffmpeg stream from %.3fs: %w", offset, err)
	}
	return nil
}
