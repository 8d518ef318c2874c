package sessions_test

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

func TestInMemoryRepo_SaveIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := sessions.NewInMemoryRepo()

	saved, err := repo.Save(ctx, &sessions.Record{ID: "s1", CSRFState: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	// A writer holding the old version loses
	_, err = repo.Save(ctx, &sessions.Record{ID: "s1", CSRFState: "b"})
	require.ErrorIs(t, err, sessions.ErrVersionConflict)

	saved.CSRFState = "c"
	saved, err = repo.Save(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	loaded, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "c", loaded.CSRFState)
}

func TestInMemoryRepo_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := sessions.NewInMemoryRepo()
	_, err := repo.Save(ctx, &sessions.Record{ID: "s1", Pending: &sessions.PendingAction{Kind: "view_summary", ResourceID: "m-1"}})
	require.NoError(t, err)

	loaded, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	loaded.Pending.ResourceID = "tampered"

	again, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", again.Pending.ResourceID)
}

func TestInMemoryRepo_ExpiredRecordsAreNotFound(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { sessions.NowTimeFunc = time.Now })

	ctx := context.Background()
	repo := sessions.NewInMemoryRepo()
	_, err := sessions.Update(ctx, repo, "s1", true, time.Hour, func(rec *sessions.Record) error { return nil })
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = repo.Load(ctx, "s1")
	require.ErrorIs(t, err, sessions.ErrNotFound)

	// A new record can be created in its place
	rec, err := sessions.Update(ctx, repo, "s1", true, time.Hour, func(rec *sessions.Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
}

func TestInMemoryRepo_Sweep(t *testing.T) {
	ctx := context.Background()
	repo := sessions.NewInMemoryRepo()
	_, err := repo.Save(ctx, &sessions.Record{ID: "old", ExpiresAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	_, err = repo.Save(ctx, &sessions.Record{ID: "live", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)

	assert.Equal(t, 1, repo.Sweep())
	_, err = repo.Load(ctx, "live")
	require.NoError(t, err)
}

func TestUpdate_NoLostUpdatesUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	repo := sessions.NewInMemoryRepo()
	_, err := repo.Save(ctx, &sessions.Record{ID: "s1"})
	require.NoError(t, err)

	// Each writer loses at most once per competing writer, which stays inside the retry budget.
	const writers = 4
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := sessions.Update(ctx, repo, "s1", false, 0, func(rec *sessions.Record) error {
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

	rec, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1+writers), rec.Version)
	for i := 0; i < writers; i++ {
		assert.Contains(t, rec.ReturnContext, fmt.Sprintf("[%d]", i))
	}
}

func TestUpdate_MissingWithoutCreate(t *testing.T) {
	_, err := sessions.Update(context.Background(), sessions.NewInMemoryRepo(), "nope", false, 0, func(*sessions.Record) error {
		t.Fatal("fn must not be called")
		return nil
	})
	require.ErrorIs(t, err, sessions.ErrNotFound)
}

func TestUpdate_FnErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	repo := sessions.NewInMemoryRepo()
	boom := fmt.Errorf("boom")
	_, err := sessions.Update(ctx, repo, "s1", true, 0, func(rec *sessions.Record) error {
		rec.CSRFState = "x"
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = repo.Load(ctx, "s1")
	require.ErrorIs(t, err, sessions.ErrNotFound)
}
