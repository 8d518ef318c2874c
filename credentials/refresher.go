package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/transcript-summary/sessions"
)

// TokenRefresher redeems a refresh token at the identity provider. Implementations return an
// error wrapping ErrGrantRejected when the provider answered with a 4xx status.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (Bundle, error)
}

// Refresher hands out usable access tokens for a session, renewing the bundle when it has expired.
// At most one refresh per session runs in this process; the session store's version check
// catches races with other processes.
type Refresher struct {
	store    sessions.Store
	codec    Codec
	provider TokenRefresher
	skew     time.Duration
	locks    keyedMutex
}

func NewRefresher(store sessions.Store, codec Codec, provider TokenRefresher, skew time.Duration) *Refresher {
	return &Refresher{
		store:    store,
		codec:    codec,
		provider: provider,
		skew:     skew,
	}
}

// Current returns the stored bundle without refreshing it.
func (r *Refresher) Current(ctx context.Context, sessionID string) (Bundle, error) {
	rec, err := r.store.Load(ctx, sessionID)
	if errors.Is(err, sessions.ErrNotFound) {
		return Bundle{}, ErrNoCredentials
	}
	if err != nil {
		return Bundle{}, fmt.Errorf("[credentials Current] %w", err)
	}
	b, err := r.codec.Decode(rec.Credentials)
	if err != nil {
		return Bundle{}, fmt.Errorf("[credentials Current] %w", err)
	}
	if b.IsZero() {
		return Bundle{}, ErrNoCredentials
	}
	return b, nil
}

// AccessToken returns an access token that is valid now. A still-valid token is returned
// without contacting the provider.
func (r *Refresher) AccessToken(ctx context.Context, sessionID string) (string, error) {
	b, err := r.Current(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if b.ValidAt(NowTimeFunc(), r.skew) {
		return b.AccessToken, nil
	}
	return r.refresh(ctx, sessionID)
}

func (r *Refresher) refresh(ctx context.Context, sessionID string) (string, error) {
	unlock, err := r.locks.Lock(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	defer unlock()

	// Another request may have refreshed while we waited.
	current, err := r.Current(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if current.ValidAt(NowTimeFunc(), r.skew) {
		return current.AccessToken, nil
	}
	if current.RefreshToken == "" {
		r.clear(ctx, sessionID, current.Generation)
		return "", ErrRefreshFailed
	}

	fresh, err := r.provider.Refresh(ctx, current.RefreshToken)
	if errors.Is(err, ErrGrantRejected) {
		log.Warn().Err(err).Str("session", sessionID).Msg("refresh token rejected, clearing credentials")
		r.clear(ctx, sessionID, current.Generation)
		return "", ErrRefreshFailed
	}
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("token refresh unavailable")
		return "", fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}

	next := current.Renew(fresh)
	encoded, err := r.codec.Encode(next)
	if err != nil {
		return "", err
	}

	_, err = sessions.Update(ctx, r.store, sessionID, false, 0, func(rec *sessions.Record) error {
		stored, err := r.codec.Decode(rec.Credentials)
		if err != nil {
			return err
		}
		if stored.IsZero() || stored.Generation != current.Generation {
			return errGenerationMoved
		}
		rec.Credentials = encoded
		return nil
	})
	switch {
	case errors.Is(err, errGenerationMoved):
		// A writer in another process got there first. Use its bundle if it is newer and usable.
		winner, err := r.Current(ctx, sessionID)
		if err != nil {
			return "", err
		}
		if winner.Generation > current.Generation && winner.ValidAt(NowTimeFunc(), r.skew) {
			return winner.AccessToken, nil
		}
		return "", ErrRefreshFailed
	case errors.Is(err, sessions.ErrNotFound):
		return "", ErrNoCredentials
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}

	log.Debug().Str("session", sessionID).Uint64("generation", next.Generation).Msg("access token refreshed")
	return next.AccessToken, nil
}

// Invalidate drops the session's credentials so the next protected request forces a sign-in.
func (r *Refresher) Invalidate(ctx context.Context, sessionID string) error {
	_, err := sessions.Update(ctx, r.store, sessionID, false, 0, func(rec *sessions.Record) error {
		rec.ClearCredentials()
		return nil
	})
	if err != nil && !errors.Is(err, sessions.ErrNotFound) {
		return fmt.Errorf("[credentials Invalidate] %w", err)
	}
	return nil
}

// clear removes the bundle only if it is still the generation the caller judged unusable.
func (r *Refresher) clear(ctx context.Context, sessionID string, generation uint64) {
	_, err := sessions.Update(ctx, r.store, sessionID, false, 0, func(rec *sessions.Record) error {
		stored, err := r.codec.Decode(rec.Credentials)
		if err == nil && !stored.IsZero() && stored.Generation != generation {
			return errGenerationMoved
		}
		rec.ClearCredentials()
		return nil
	})
	if err != nil && !errors.Is(err, errGenerationMoved) && !errors.Is(err, sessions.ErrNotFound) {
		log.Error().Err(err).Str("session", sessionID).Msg("failed to clear credentials")
	}
}

var errGenerationMoved = errors.New("credential generation moved on")
