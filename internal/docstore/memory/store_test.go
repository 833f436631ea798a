package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finfolio-app/finfolio/internal/docstore"
)

func TestStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Get(ctx, "things", "a")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	err = s.BatchWrite(ctx, []docstore.Write{
		{Op: docstore.OpSet, Collection: "things", ID: "a", Data: map[string]interface{}{"n": 1}},
		{Op: docstore.OpSet, Collection: "things", ID: "b", Data: map[string]interface{}{"n": 2}},
	})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Data["n"])

	err = s.BatchWrite(ctx, []docstore.Write{{Op: docstore.OpDelete, Collection: "things", ID: "a"}})
	require.NoError(t, err)
	_, err = s.Get(ctx, "things", "a")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestStore_QueryEqualityFilters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.BatchWrite(ctx, []docstore.Write{
		{Op: docstore.OpSet, Collection: "rows", ID: "1", Data: map[string]interface{}{"user_id": "u1", "status": "active"}},
		{Op: docstore.OpSet, Collection: "rows", ID: "2", Data: map[string]interface{}{"user_id": "u1", "status": "pending"}},
		{Op: docstore.OpSet, Collection: "rows", ID: "3", Data: map[string]interface{}{"user_id": "u2", "status": "active"}},
	}))

	docs, err := s.Query(ctx, "rows", []docstore.Filter{
		{Field: "user_id", Value: "u1"},
		{Field: "status", Value: "active"},
	}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "1", docs[0].ID)

	docs, err = s.Query(ctx, "rows", nil, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	docs, err = s.Query(ctx, "rows", []docstore.Filter{{Field: "user_id", Value: "u1"}}, 1)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.BatchWrite(ctx, []docstore.Write{
		{Op: docstore.OpSet, Collection: "c", ID: "x", Data: map[string]interface{}{"v": "orig"}},
	}))

	doc, err := s.Get(ctx, "c", "x")
	require.NoError(t, err)
	doc.Data["v"] = "mutated"

	again, err := s.Get(ctx, "c", "x")
	require.NoError(t, err)
	assert.Equal(t, "orig", again.Data["v"])
}

func TestRunTransaction_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Create("c", "a", map[string]interface{}{"n": 1})
	})
	require.NoError(t, err)

	// Failing callback commits nothing.
	err = s.RunTransaction(ctx, func(tx docstore.Tx) error {
		if err := tx.Set("c", "b", map[string]interface{}{"n": 2}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	_, err = s.Get(ctx, "c", "b")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestRunTransaction_CreateExisting(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.BatchWrite(ctx, []docstore.Write{
		{Op: docstore.OpSet, Collection: "c", ID: "a", Data: map[string]interface{}{"n": 1}},
	}))

	err := s.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Create("c", "a", map[string]interface{}{"n": 2})
	})
	assert.ErrorIs(t, err, docstore.ErrExists)

	doc, err := s.Get(ctx, "c", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Data["n"])
}

func TestRunTransaction_UpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.BatchWrite(ctx, []docstore.Write{
		{Op: docstore.OpSet, Collection: "c", ID: "a", Data: map[string]interface{}{"n": 1, "keep": "yes"}},
	}))

	err := s.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Update("c", "a", map[string]interface{}{"n": 2})
	})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "c", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Data["n"])
	assert.Equal(t, "yes", doc.Data["keep"])

	err = s.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Update("c", "missing", map[string]interface{}{"n": 2})
	})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

// Serializable transactions: concurrent conditional increments never
// overshoot the cap.
func TestRunTransaction_ConcurrentConditionalIncrement(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.BatchWrite(ctx, []docstore.Write{
		{Op: docstore.OpSet, Collection: "invites", ID: "code", Data: map[string]interface{}{"use_count": 0, "max_uses": 1}},
	}))

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.RunTransaction(ctx, func(tx docstore.Tx) error {
				doc, err := tx.Get("invites", "code")
				if err != nil {
					return err
				}
				if doc.Data["use_count"].(int) >= doc.Data["max_uses"].(int) {
					return assert.AnError
				}
				return tx.Update("invites", "code", map[string]interface{}{
					"use_count": doc.Data["use_count"].(int) + 1,
				})
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)

	doc, err := s.Get(ctx, "invites", "code")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Data["use_count"])
}

func TestStore_CancelledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "c", "a")
	assert.ErrorIs(t, err, docstore.ErrTransient)
	err = s.RunTransaction(ctx, func(tx docstore.Tx) error { return nil })
	assert.ErrorIs(t, err, docstore.ErrTransient)
}
