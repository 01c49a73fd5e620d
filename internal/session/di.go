package session

import (
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/satindergrewal/improv/internal/capture"
	"github.com/satindergrewal/improv/internal/coach"
	"github.com/satindergrewal/improv/internal/config"
	"github.com/satindergrewal/improv/internal/layers"
	"github.com/satindergrewal/improv/internal/mixer"
	"github.com/satindergrewal/improv/internal/store"
)

// RegisterDI provides the Controller. A *capture.Recorder is used when one
// has been provided.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Controller, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[zerolog.Logger](i)

		c := Config{
			Mixer:        do.MustInvoke[*mixer.Mixer](i),
			Generator:    do.MustInvoke[*layers.Generator](i),
			Coach:        do.MustInvoke[*coach.Coach](i),
			Store:        do.MustInvoke[store.Store](i),
			DefaultGenre: cfg.DefaultGenre,
		}
		if rec, err := do.Invoke[*capture.Recorder](i); err == nil {
			c.Recorder = rec
		}
		return New(c, logger)
	})
}
