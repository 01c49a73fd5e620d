package layers

import (
	"strconv"
	"strings"
)

// templates holds the music API prompt for each generated layer. {genre} and
// {bpm} are substituted at generation time. All layers are acapella so they
// sit under a live vocal.
var templates = map[Kind]string{
	Bass:    `Deep bass vocal line with rich low tones, {genre} style, {bpm} BPM, humming and "doom" syllables, 8 bars, acapella only`,
	Harmony: "Smooth mid-range harmony vocals, oohs and aahs, {genre} style, {bpm} BPM, complementary notes, 8 bars, acapella only",
	Rhythm:  "Vocal percussion and beatbox, {genre} style, {bpm} BPM, mouth drums and rhythmic sounds, 8 bars, acapella only",
}

// Prompt returns the generation prompt for a layer.
func Prompt(kind Kind, genre string, bpm int) (string, error) {
	tmpl, ok := templates[kind]
	if !ok {
		return "", ErrUnknownKind
	}
	r := strings.NewReplacer("{genre}", genre, "{bpm}", strconv.Itoa(bpm))
	return r.Replace(tmpl), nil
}
