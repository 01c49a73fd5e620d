// Package layers describes the backing-track layers of an improv session:
// the genres a session can be set to, the prompts used to generate each
// vocal layer, and the locally rendered metronome.
package layers

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownKind   = errors.New("unknown layer kind")
	ErrUnknownGenre  = errors.New("unknown genre")
	ErrBPMOutOfRange = errors.New("bpm out of range")
)

// Kind identifies a layer. The kind doubles as the mixer track id.
type Kind string

const (
	Bass      Kind = "bass"
	Harmony   Kind = "harmony"
	Rhythm    Kind = "rhythm"
	User      Kind = "user"
	Metronome Kind = "metronome"
)

// Generated lists the kinds produced by the music API, in generation order.
var Generated = []Kind{Bass, Harmony, Rhythm}

// All lists every kind a session can hold.
var All = []Kind{Bass, Harmony, Rhythm, User, Metronome}

var defaultVolumes = map[Kind]float64{
	Bass:      0.8,
	Harmony:   0.8,
	Rhythm:    0.7,
	User:      1.0,
	Metronome: 0.5,
}

// ParseKind validates a layer name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := defaultVolumes[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// DefaultVolume is the volume a freshly loaded layer starts at.
func (k Kind) DefaultVolume() float64 {
	if v, ok := defaultVolumes[k]; ok {
		return v
	}
	return 1
}

// IsGenerated reports whether the layer comes from the music API.
func (k Kind) IsGenerated() bool {
	return k == Bass || k == Harmony || k == Rhythm
}

// Genre is a session style with its usable tempo range.
type Genre struct {
	Name       string `json:"name"`
	MinBPM     int    `json:"min_bpm"`
	MaxBPM     int    `json:"max_bpm"`
	DefaultBPM int    `json:"default_bpm"`
}

var genres = map[string]Genre{
	"doo-wop":    {Name: "doo-wop", MinBPM: 70, MaxBPM: 110, DefaultBPM: 90},
	"gospel":     {Name: "gospel", MinBPM: 80, MaxBPM: 130, DefaultBPM: 100},
	"barbershop": {Name: "barbershop", MinBPM: 60, MaxBPM: 100, DefaultBPM: 80},
	"lo-fi":      {Name: "lo-fi", MinBPM: 70, MaxBPM: 95, DefaultBPM: 85},
	"jazz":       {Name: "jazz", MinBPM: 100, MaxBPM: 160, DefaultBPM: 120},
	"pop":        {Name: "pop", MinBPM: 90, MaxBPM: 130, DefaultBPM: 110},
}

// LookupGenre returns the named genre.
func LookupGenre(name string) (Genre, error) {
	g, ok := genres[name]
	if !ok {
		return Genre{}, fmt.Errorf("%w: %q", ErrUnknownGenre, name)
	}
	return g, nil
}

// Genres returns all genres sorted by name.
func Genres() []Genre {
	out := make([]Genre, 0, len(genres))
	for _, g := range genres {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResolveBPM returns bpm if it is within the genre's range. Zero selects the
// genre default.
func (g Genre) ResolveBPM(bpm int) (int, error) {
	if bpm == 0 {
		return g.DefaultBPM, nil
	}
	if bpm < g.MinBPM || bpm > g.MaxBPM {
		return 0, fmt.Errorf("%w: %d not in %d-%d for %s", ErrBPMOutOfRange, bpm, g.MinBPM, g.MaxBPM, g.Name)
	}
	return bpm, nil
}
