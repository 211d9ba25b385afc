package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TrackExt is the extension of every cached track; Download always produces MP3.
const TrackExt = ".mp3"

// TrackContentType is the MIME type matching TrackExt.
const TrackContentType = "audio/mpeg"

// YtDlp drives the yt-dlp binary for metadata lookup and media download.
type YtDlp struct {
	runner Runner
	path   string
}

// NewYtDlp creates a YtDlp using the binary at path.
func NewYtDlp(runner Runner, path string) *YtDlp {
	return &YtDlp{runner: runner, path: path}
}

// LookupMetadata runs `yt-dlp -J` and parses the info JSON.
func (y *YtDlp) LookupMetadata(ctx context.Context, sourceURL string) (*SourceMetadata, error) {
	res, err := y.runner.Run(ctx, y.path, "-J", "--no-playlist", "--no-warnings", sourceURL)
	if err != nil {
		return nil, err
	}

	var meta SourceMetadata
	if err := json.Unmarshal(res.Stdout, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp JSON: %w", err)
	}
	if meta.Duration < 0 {
		meta.Duration = 0
	}
	return &meta, nil
}

// Download extracts the best audio stream of sourceURL and transcodes it to
// MP3 at dest. dest must end in TrackExt; yt-dlp's output template fills the
// extension itself.
func (y *YtDlp) Download(ctx context.Context, sourceURL, dest string) error {
	if !strings.HasSuffix(dest, TrackExt) {
		return fmt.Errorf("download target %s must end in %s", dest, TrackExt)
	}
	template := strings.TrimSuffix(dest, TrackExt) + ".%(ext)s"

	args := []string{
		"-f", "bestaudio",
		"-x", "--audio-format", "mp3",
		"--no-playlist",
		"--no-progress",
		"-o", template,
		sourceURL,
	}
	if _, err := y.runner.Run(ctx, y.path, args...); err != nil {
		return err
	}

	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("yt-dlp finished but %s is missing: %w", filepath.Base(dest), err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("yt-dlp produced an empty file %s", filepath.Base(dest))
	}
	return nil
}
