package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/transcript-summary/internal/errors"
)

var (
	ErrNotFound        = apperrors.ErrSessionNotFound
	ErrVersionConflict = apperrors.ErrVersionConflict
)

// Store persists session records. Save is a compare-and-swap on Version: it succeeds only when
// the stored version equals rec.Version (0 meaning "must not exist yet"), and on success the
// stored and returned record carry Version+1.
type Store interface {
	Load(ctx context.Context, id string) (*Record, error)
	Save(ctx context.Context, rec *Record) (*Record, error)
	Delete(ctx context.Context, id string) error
}

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const maxUpdateAttempts = 5

// Update performs a read-modify-write of one session record without lost updates. fn may be
// called more than once when a concurrent writer wins the race; it must only mutate rec. If fn
// returns an error nothing is written and the error is returned unchanged.
//
// When the record does not exist and create is true, fn receives a fresh record with
// the given id; otherwise ErrNotFound is returned.
func Update(ctx context.Context, store Store, id string, create bool, maxAge time.Duration, fn func(rec *Record) error) (*Record, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		rec, err := store.Load(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			if !create {
				return nil, err
			}
			now := NowTimeFunc()
			rec = &Record{ID: id, CreatedAt: now}
			if maxAge > 0 {
				rec.ExpiresAt = now.Add(maxAge)
			}
		case err != nil:
			return nil, fmt.Errorf("[sessions Update] load: %w", err)
		}

		if err := fn(rec); err != nil {
			return nil, err
		}
		rec.UpdatedAt = NowTimeFunc()

		saved, err := store.Save(ctx, rec)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("[sessions Update] save: %w", err)
		}
		return saved, nil
	}
	return nil, ErrVersionConflict
}
