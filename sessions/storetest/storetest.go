// Package storetest holds the behaviour every sessions.Store implementation must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/transcript-summary/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises store against the Store contract. newID must return ids unique to this run.
func Run(t *testing.T, store sessions.Store, newID func() string) {
	t.Helper()

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := store.Load(context.Background(), newID())
		require.ErrorIs(t, err, sessions.ErrNotFound)
	})

	t.Run("SaveLoadRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		id := newID()
		rec := &sessions.Record{
			ID:            id,
			CSRFState:     "state-1",
			StateIssuedAt: time.Now().UTC().Truncate(time.Second),
			Pending:       &sessions.PendingAction{Kind: "view_summary", ResourceID: "会議-42", UserHint: "zoë@example.com"},
			ReturnContext: "token",
			Credentials:   "bundle",
			Identity:      &sessions.Identity{DisplayName: "Zoë", Email: "zoe@example.com"},
			CreatedAt:     time.Now().UTC().Truncate(time.Second),
			ExpiresAt:     time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		}
		saved, err := store.Save(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, int64(1), saved.Version)

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Version)
		assert.Equal(t, rec.CSRFState, loaded.CSRFState)
		assert.Equal(t, *rec.Pending, *loaded.Pending)
		assert.Equal(t, *rec.Identity, *loaded.Identity)
		assert.Equal(t, rec.Credentials, loaded.Credentials)
		assert.True(t, rec.ExpiresAt.Equal(loaded.ExpiresAt))
	})

	t.Run("StaleVersionConflicts", func(t *testing.T) {
		ctx := context.Background()
		id := newID()
		_, err := store.Save(ctx, &sessions.Record{ID: id, ExpiresAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		_, err = store.Save(ctx, &sessions.Record{ID: id, ExpiresAt: time.Now().Add(time.Hour)})
		require.ErrorIs(t, err, sessions.ErrVersionConflict)
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()
		id := newID()
		_, err := store.Save(ctx, &sessions.Record{ID: id, ExpiresAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, id))
		_, err = store.Load(ctx, id)
		require.ErrorIs(t, err, sessions.ErrNotFound)
	})

	t.Run("ConcurrentUpdates", func(t *testing.T) {
		ctx := context.Background()
		id := newID()
		const writers = 4
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := sessions.Update(ctx, store, id, true, time.Hour, func(rec *sessions.Record) error {
					rec.ReturnContext += fmt.Sprintf("[%d]", i)
					return nil
				})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		rec, err := store.Load(ctx, id)
		require.NoError(t, err)
		for i := 0; i < writers; i++ {
			assert.Contains(t, rec.ReturnContext, fmt.Sprintf("[%d]", i))
		}
	})
}
