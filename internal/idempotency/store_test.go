package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestReserveFinalizeLookup(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil, testutil.SQLiteStore(t), time.Hour)

	_, err := s.Lookup(ctx, "k1", "h1")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Reserve(ctx, "k1", "h1", http.MethodPost, "/v1/wallets/w/payouts")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Reserve(ctx, "k1", "h1", http.MethodPost, "/v1/wallets/w/payouts")
	require.NoError(t, err)
	require.False(t, ok, "second reservation loses")

	_, err = s.Lookup(ctx, "k1", "h1")
	require.ErrorIs(t, err, ErrInProgress)

	rec, err := s.Finalize(ctx, "k1", "h1", http.StatusCreated, []byte(`{"id":"p"}`), "application/json")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, rec.Status)

	rec, err = s.Lookup(ctx, "k1", "h1")
	require.NoError(t, err)
	require.Equal(t, "database", rec.ServedBy)
	require.JSONEq(t, `{"id":"p"}`, string(rec.Body))

	_, err = s.Lookup(ctx, "k1", "other-hash")
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestFinalizeUnknownKey(t *testing.T) {
	s := NewStore(nil, testutil.SQLiteStore(t), time.Hour)
	_, err := s.Finalize(context.Background(), "missing", "h", http.StatusOK, nil, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWaitForCompletion(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil, testutil.SQLiteStore(t), time.Hour)

	ok, err := s.Reserve(ctx, "k2", "h", http.MethodPost, "/x")
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan *Record, 1)
	go func() {
		rec, _ := s.WaitForCompletion(ctx, "k2", "h")
		done <- rec
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = s.Finalize(ctx, "k2", "h", http.StatusAccepted, []byte(`{}`), "application/json")
	require.NoError(t, err)

	select {
	case rec := <-done:
		require.NotNil(t, rec)
		require.Equal(t, http.StatusAccepted, rec.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not observe completion")
	}

	short, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()
	ok, err = s.Reserve(ctx, "k3", "h", http.MethodPost, "/x")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.WaitForCompletion(short, "k3", "h")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
