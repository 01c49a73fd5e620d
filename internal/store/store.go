// Package store persists analyzed takes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("take not found")

// TakeRecord is one analyzed take. Audio is not stored.
type TakeRecord struct {
	ID            uuid.UUID `json:"id"`
	Genre         string    `json:"genre"`
	BPM           int       `json:"bpm"`
	DurationSec   float64   `json:"duration_sec"`
	Transcription string    `json:"transcription"`
	Feedback      string    `json:"feedback"`
	Tips          []string  `json:"tips"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
}

type Store interface {
	// SaveTake stores rec, assigning an ID and creation time when unset.
	SaveTake(ctx context.Context, rec TakeRecord) (TakeRecord, error)
	GetTake(ctx context.Context, id uuid.UUID) (TakeRecord, error)
	// ListTakes returns the newest takes first.
	ListTakes(ctx context.Context, limit int) ([]TakeRecord, error)
}

func prepare(rec TakeRecord) TakeRecord {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Tips == nil {
		rec.Tips = []string{}
	}
	return rec
}
