package keydetect

import "math"

// target is one resonator tuned to an equal-tempered pitch.
type target struct {
	midi       int
	pitchClass int
	freq       float64
	coeff      float64 // 2cos(2πf/fs)
}

// midiFrequency returns the A440 equal-tempered frequency of a MIDI note.
func midiFrequency(midi int) float64 {
	return 440 * math.Pow(2, float64(midi-69)/12)
}

func buildTargets(sampleRate int) []target {
	targets := make([]target, 0, highestMIDI-lowestMIDI+1)
	for midi := lowestMIDI; midi <= highestMIDI; midi++ {
		f := midiFrequency(midi)
		targets = append(targets, target{
			midi:       midi,
			pitchClass: midi % 12,
			freq:       f,
			coeff:      2 * math.Cos(2*math.Pi*f/float64(sampleRate)),
		})
	}
	return targets
}

// hannWindow uses the symmetric definition w[n] = 0.5(1 - cos(2πn/(N-1))).
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// goertzelPower runs the two-pole resonator over frame and returns
// s1² + s2² - coeff·s1·s2 from its final two states.
func goertzelPower(frame []float64, coeff float64) float64 {
	var s1, s2 float64
	for _, x := range frame {
		s := x + coeff*s1 - s2
		s2 = s1
		s1 = s
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}

// chromaVector accumulates resonator power per pitch class over every full
// frame and normalises the result to sum 1.
func chromaVector(samples []float64, sampleRate int) ([12]float64, int, bool) {
	var chroma [12]float64
	if len(samples) < WindowSize || sampleRate <= 0 {
		return chroma, 0, false
	}

	window := hannWindow(WindowSize)
	targets := buildTargets(sampleRate)
	frame := make([]float64, WindowSize)

	frames := 0
	for start := 0; start+WindowSize <= len(samples); start += HopSize {
		for i := range frame {
			frame[i] = samples[start+i] * window[i]
		}
		for _, t := range targets {
			chroma[t.pitchClass] += goertzelPower(frame, t.coeff)
		}
		frames++
	}

	var total float64
	for _, v := range chroma {
		total += v
	}
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return chroma, frames, false
	}
	for i := range chroma {
		chroma[i] /= total
	}
	return chroma, frames, true
}
