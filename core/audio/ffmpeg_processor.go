package audio

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// FFmpegProcessor inspects and decodes cached tracks with ffprobe and ffmpeg.
type FFmpegProcessor struct {
	runner      Runner
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
func NewFFmpegProcessor(runner Runner, ffmpegPath, ffprobePath string) *FFmpegProcessor {
	return &FFmpegProcessor{runner: runner, ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// FFmpegPath returns the configured ffmpeg binary.
func (p *FFmpegProcessor) FFmpegPath() string {
	return p.ffmpegPath
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration uses ffprobe to get the duration of an audio file in seconds.
func (p *FFmpegProcessor) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	}

	res, err := p.runner.Run(ctx, p.ffprobePath, args...)
	if err != nil {
		return 0, err
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(res.Stdout, &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", path, err)
	}
	if probeData.Format.Duration == "" || probeData.Format.Duration == "N/A" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", path)
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration string %q for %s: %w", probeData.Format.Duration, path, err)
	}
	return duration, nil
}

// DecodePCM decodes the first seconds of path into mono float samples at
// sampleRate. ffmpeg writes raw little-endian float32 to stdout.
func (p *FFmpegProcessor) DecodePCM(ctx context.Context, path string, seconds, sampleRate int) ([]float64, error) {
	args := []string{
		"-v", "error",
		"-nostdin",
		"-t", strconv.Itoa(seconds),
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		"pipe:1",
	}

	res, err := p.runner.Run(ctx, p.ffmpegPath, args...)
	if err != nil {
		return nil, err
	}
	return DecodeFloat32LE(res.Stdout), nil
}

// DecodeFloat32LE converts raw f32le bytes to samples clamped to [-1, 1].
// A trailing partial sample is ignored; NaN samples become 0.
func DecodeFloat32LE(raw []byte) []float64 {
	n := len(raw) / 4
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		v := float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		switch {
		case math.IsNaN(v):
			v = 0
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		samples[i] = v
	}
	return samples
}
