// Package keydetect estimates the musical key of a mono PCM excerpt.
//
// A bank of 36 Goertzel resonators (C3..B5) is run over Hann-windowed frames
// to build a 12-bin chroma vector, which is then correlated against rotated
// Krumhansl-Schmuckler major and minor profiles. The analysis has no state and
// no I/O; identical input always yields an identical estimate.
package keydetect

import (
	"math"

	"KeyShift/model"
)

const (
	// WindowSize is the analysis frame length in samples.
	WindowSize = 2048
	// HopSize is the distance between successive frames (50% overlap).
	HopSize = 1024

	lowestMIDI  = 48 // C3
	highestMIDI = 83 // B5

	highConfidenceScore      = 0.5
	highConfidenceSeparation = 0.05
)

var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// Candidate is one of the 24 key hypotheses with its template similarity.
type Candidate struct {
	Tonic int
	Mode  model.Mode
	Score float64
}

// Analysis is the full result behind an estimate, kept for diagnostics.
type Analysis struct {
	Chroma     [12]float64    // normalised to sum 1
	Candidates [24]Candidate  // tonic-major order: (C,major), (C,minor), (C#,major), ...
	Best       Candidate
	SecondBest float64
	Separation float64
	Frames     int
}

// EstimateKey returns the most likely key of samples (expected in [-1, 1])
// recorded at sampleRate, or nil when no estimate can be made: fewer samples
// than one window, silent input, or no positively correlated template.
func EstimateKey(samples []float64, sampleRate int) *model.KeyEstimate {
	a, ok := Analyze(samples, sampleRate)
	if !ok {
		return nil
	}
	return a.Estimate()
}

// Estimate converts the analysis into the public key estimate, or nil when the
// best score is not a usable positive similarity.
func (a *Analysis) Estimate() *model.KeyEstimate {
	best := a.Best.Score
	if best <= 0 || math.IsNaN(best) || math.IsInf(best, 0) {
		return nil
	}

	confidence := model.LowConfidence
	if best >= highConfidenceScore && a.Separation >= highConfidenceSeparation {
		confidence = model.HighConfidence
	}

	return &model.KeyEstimate{
		Tonic:      a.Best.Tonic,
		Mode:       a.Best.Mode,
		Confidence: confidence,
		Score:      best,
	}
}

// Analyze runs the resonator bank and template match. ok is false when the
// input is shorter than one window or carries no energy at the analyzed pitches.
func Analyze(samples []float64, sampleRate int) (*Analysis, bool) {
	chroma, frames, ok := chromaVector(samples, sampleRate)
	if !ok {
		return nil, false
	}

	a := &Analysis{Chroma: chroma, Frames: frames}
	a.Best = Candidate{Score: math.Inf(-1)}
	a.SecondBest = math.Inf(-1)

	i := 0
	for tonic := 0; tonic < 12; tonic++ {
		for _, mode := range [2]model.Mode{model.Major, model.Minor} {
			profile := rotate(profileFor(mode), tonic)
			c := Candidate{Tonic: tonic, Mode: mode, Score: cosineSimilarity(chroma[:], profile[:])}
			a.Candidates[i] = c
			i++

			// Strict comparison keeps the first-encountered candidate on ties.
			if c.Score > a.Best.Score {
				a.SecondBest = a.Best.Score
				a.Best = c
			} else if c.Score > a.SecondBest {
				a.SecondBest = c.Score
			}
		}
	}
	a.Separation = a.Best.Score - a.SecondBest
	return a, true
}

// Chroma returns the normalised 12-bin pitch-class energy of samples.
func Chroma(samples []float64, sampleRate int) ([12]float64, bool) {
	chroma, _, ok := chromaVector(samples, sampleRate)
	return chroma, ok
}

func profileFor(mode model.Mode) [12]float64 {
	if mode == model.Minor {
		return minorProfile
	}
	return majorProfile
}

// rotate returns p shifted so that index i holds p[(i - tonic) mod 12].
func rotate(p [12]float64, tonic int) [12]float64 {
	var out [12]float64
	for i := range out {
		out[i] = p[((i-tonic)%12+12)%12]
	}
	return out
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
