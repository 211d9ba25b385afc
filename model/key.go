package model

import (
	"encoding/json"
	"fmt"
)

// PitchClassNames maps a pitch class index (0 = C) to its sharp spelling.
var PitchClassNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Mode is the scale quality of a key.
type Mode int

const (
	Major Mode = iota
	Minor
)

func (m Mode) String() string {
	if m == Minor {
		return "minor"
	}
	return "major"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "major":
		*m = Major
	case "minor":
		*m = Minor
	default:
		return fmt.Errorf("unknown mode %q", b)
	}
	return nil
}

// Confidence is a deliberately coarse two-level label for a key estimate.
type Confidence int

const (
	LowConfidence Confidence = iota
	HighConfidence
)

func (c Confidence) String() string {
	if c == HighConfidence {
		return "high"
	}
	return "low"
}

func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Confidence) UnmarshalText(b []byte) error {
	switch string(b) {
	case "high":
		*c = HighConfidence
	case "low":
		*c = LowConfidence
	default:
		return fmt.Errorf("unknown confidence %q", b)
	}
	return nil
}

// KeyEstimate is the analyzer's best guess at a track's tonic and mode.
type KeyEstimate struct {
	Tonic      int        `json:"tonic"` // pitch class 0..11, 0 = C
	Mode       Mode       `json:"mode"`
	Confidence Confidence `json:"confidence"`
	Score      float64    `json:"score"` // cosine similarity of the winning template
}

// TonicName returns the sharp spelling of the tonic, e.g. "F#".
func (k KeyEstimate) TonicName() string {
	return PitchClassNames[((k.Tonic%12)+12)%12]
}

// Name renders the key as "<tonic> <mode>", e.g. "A minor".
func (k KeyEstimate) Name() string {
	return k.TonicName() + " " + k.Mode.String()
}

// MarshalJSON adds the human readable fields the player UI displays.
func (k KeyEstimate) MarshalJSON() ([]byte, error) {
	type plain KeyEstimate
	return json.Marshal(struct {
		plain
		TonicName string `json:"tonicName"`
		Label     string `json:"label"`
	}{plain(k), k.TonicName(), k.Name()})
}
