package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"KeyShift/config"
	"KeyShift/core/audio"
	"KeyShift/core/keydetect"
	"KeyShift/model"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	analyzeSeconds int
	analyzeRate    int
	analyzeTop     int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Estimate the key of a local audio file",
	Long:  `Decode the beginning of FILE with ffmpeg and print the estimated key, the chroma profile and the best-scoring candidates.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if analyzeSeconds <= 0 {
			analyzeSeconds = cfg.AnalysisSeconds
		}
		if analyzeRate <= 0 {
			analyzeRate = cfg.AnalysisSampleRate
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		ff := audio.NewFFmpegProcessor(audio.NewExecRunner(), cfg.FFmpegPath, cfg.FFprobePath)
		path := args[0]

		if d, err := ff.ProbeDuration(ctx, path); err == nil {
			fmt.Printf("File:      %s (%.1fs)\n", path, d)
		} else {
			fmt.Printf("File:      %s (duration unknown: %v)\n", path, err)
		}

		start := time.Now()
		samples, err := ff.DecodePCM(ctx, path, analyzeSeconds, analyzeRate)
		if err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		fmt.Printf("Decoded:   %s samples at %d Hz in %s\n",
			humanize.Comma(int64(len(samples))), analyzeRate, time.Since(start).Round(time.Millisecond))

		analysis, ok := keydetect.Analyze(samples, analyzeRate)
		if !ok {
			fmt.Println("Key:       none (too short or silent)")
			return nil
		}
		if est := analysis.Estimate(); est != nil {
			fmt.Printf("Key:       %s (%s confidence, score %.3f, separation %.3f)\n",
				est.Name(), est.Confidence, est.Score, analysis.Separation)
		} else {
			fmt.Println("Key:       none (no positive match)")
		}
		fmt.Printf("Frames:    %d\n\n", analysis.Frames)

		printChroma(analysis.Chroma)
		printCandidates(analysis.Candidates[:], analyzeTop)
		return nil
	},
}

func printChroma(chroma [12]float64) {
	fmt.Println("Chroma:")
	maxV := 0.0
	for _, v := range chroma {
		if v > maxV {
			maxV = v
		}
	}
	for i, v := range chroma {
		bar := 0
		if maxV > 0 {
			bar = int(v / maxV * 40)
		}
		fmt.Printf("  %-2s %5.3f %s\n", model.PitchClassNames[i], v, strings.Repeat("#", bar))
	}
	fmt.Println()
}

func printCandidates(candidates []keydetect.Candidate, top int) {
	ranked := append([]keydetect.Candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if top > len(ranked) {
		top = len(ranked)
	}
	fmt.Println("Candidates:")
	for _, c := range ranked[:top] {
		name := model.KeyEstimate{Tonic: c.Tonic, Mode: c.Mode}.Name()
		fmt.Printf("  %-9s %.4f\n", name, c.Score)
	}
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeSeconds, "seconds", 0, "seconds to analyze (default ANALYSIS_SECONDS)")
	analyzeCmd.Flags().IntVar(&analyzeRate, "rate", 0, "decode sample rate (default ANALYSIS_SAMPLE_RATE)")
	analyzeCmd.Flags().IntVar(&analyzeTop, "top", 5, "number of candidates to print")
	rootCmd.AddCommand(analyzeCmd)
}
