package audio

import "context"

// SourceMetadata is the subset of yt-dlp's info JSON the service uses.
type SourceMetadata struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"` // seconds, 0 when unknown
}

// Processor is the set of external collaborators the acquisition pipeline
// drives, one method per stage.
type Processor interface {
	// LookupMetadata resolves nominal metadata for a source URL.
	LookupMetadata(ctx context.Context, sourceURL string) (*SourceMetadata, error)
	// Download fetches and transcodes the source into dest.
	Download(ctx context.Context, sourceURL, dest string) error
	// ProbeDuration reads the real duration of a local file in seconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)
	// DecodePCM decodes at most seconds of path into mono samples at sampleRate.
	DecodePCM(ctx context.Context, path string, seconds, sampleRate int) ([]float64, error)
}

// Toolchain implements Processor with yt-dlp, ffprobe and ffmpeg.
type Toolchain struct {
	*YtDlp
	*FFmpegProcessor
}

// NewToolchain wires the three binaries behind one Runner.
func NewToolchain(runner Runner, ytDlpPath, ffmpegPath, ffprobePath string) *Toolchain {
	return &Toolchain{
		YtDlp:           NewYtDlp(runner, ytDlpPath),
		FFmpegProcessor: NewFFmpegProcessor(runner, ffmpegPath, ffprobePath),
	}
}

var _ Processor = (*Toolchain)(nil)
