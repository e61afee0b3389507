package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"subtrans/internal/model"
	"subtrans/internal/provider"
)

func newDoc(t *testing.T, n int) *model.Document {
	t.Helper()
	entries := make([]model.Entry, 0, n)
	for i := 1; i <= n; i++ {
		entries = append(entries, model.Entry{ID: int64(i), StartMS: int64(i) * 1000, EndMS: int64(i)*1000 + 500, Original: "line"})
	}
	doc, err := model.New("doc", model.Metadata{}, entries)
	require.NoError(t, err)
	return doc
}

func TestPartitionRespectsCharBudgetWithoutSplittingEntries(t *testing.T) {
	doc := newDoc(t, 10)
	batches := Partition(doc, PartitionOptions{MaxChars: 12}) // "line" = 4 chars -> 3 per batch
	require.NotEmpty(t, batches)
	for _, b := range batches {
		require.LessOrEqual(t, b.ToID-b.FromID+1, int64(3))
	}
}

func TestPartitionRespectsSceneBoundary(t *testing.T) {
	doc := newDoc(t, 6)
	batches := Partition(doc, PartitionOptions{MaxChars: 1000, SceneBoundary: func(id int64) bool { return id == 3 }})
	require.Len(t, batches, 2)
	require.Equal(t, int64(3), batches[0].ToID)
	require.Equal(t, int64(4), batches[1].FromID)
}

func TestRunRetriesRateLimitedThenSucceeds(t *testing.T) {
	doc := newDoc(t, 3)
	batches := Partition(doc, PartitionOptions{MaxChars: 1000})
	require.Len(t, batches, 1)

	var calls atomic.Int32
	sched := &Scheduler{Concurrency: 1, Retry: RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 3}}
	out, err := sched.Run(context.Background(), batches, func(ctx context.Context, b Batch, attempt int) error {
		if calls.Add(1) == 1 {
			return &provider.Error{Code: provider.CodeRateLimited, RetryAfter: time.Millisecond}
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NoError(t, out[0].Err)
	require.Equal(t, int32(2), calls.Load())
}

func TestRunSurfacesInvalidOutputAfterOneRetry(t *testing.T) {
	doc := newDoc(t, 2)
	batches := Partition(doc, PartitionOptions{MaxChars: 1000})

	var calls atomic.Int32
	sched := &Scheduler{Concurrency: 1}
	out, err := sched.Run(context.Background(), batches, func(ctx context.Context, b Batch, attempt int) error {
		calls.Add(1)
		return &provider.Error{Code: provider.CodeInvalidOutput}
	})
	require.NoError(t, err)
	require.Error(t, out[0].Err)
	require.Equal(t, int32(2), calls.Load())
}

func TestRunTreatsAuthFailedAsFatalWithoutRetry(t *testing.T) {
	doc := newDoc(t, 2)
	batches := Partition(doc, PartitionOptions{MaxChars: 1000})

	var calls atomic.Int32
	sched := &Scheduler{Concurrency: 1}
	out, _ := sched.Run(context.Background(), batches, func(ctx context.Context, b Batch, attempt int) error {
		calls.Add(1)
		return &provider.Error{Code: provider.CodeAuthFailed}
	})
	require.Error(t, out[0].Err)
	require.Equal(t, int32(1), calls.Load())
}
