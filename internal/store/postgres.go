package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveTake(ctx context.Context, rec TakeRecord) (TakeRecord, error) {
	rec = prepare(rec)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO takes (id, genre, bpm, duration_sec, transcription, feedback, tips, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Genre, rec.BPM, rec.DurationSec, rec.Transcription, rec.Feedback, rec.Tips, rec.Source, rec.CreatedAt)
	if err != nil {
		return TakeRecord{}, err
	}
	return rec, nil
}

func (s *PostgresStore) GetTake(ctx context.Context, id uuid.UUID) (TakeRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, genre, bpm, duration_sec, transcription, feedback, tips, source, created_at
		 FROM takes WHERE id = $1`, id)
	rec, err := scanTake(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TakeRecord{}, ErrNotFound
		}
		return TakeRecord{}, err
	}
	return rec, nil
}

func (s *PostgresStore) ListTakes(ctx context.Context, limit int) ([]TakeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, genre, bpm, duration_sec, transcription, feedback, tips, source, created_at
		 FROM takes ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []TakeRecord
	for rows.Next() {
		rec, err := scanTake(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

func scanTake(row pgx.Row) (TakeRecord, error) {
	var rec TakeRecord
	err := row.Scan(&rec.ID, &rec.Genre, &rec.BPM, &rec.DurationSec, &rec.Transcription, &rec.Feedback, &rec.Tips, &rec.Source, &rec.CreatedAt)
	return rec, err
}
