package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobArchiver struct {
	cutoff time.Time
	count  int64
	err    error
}

func (f *fakeBlobArchiver) ArchivePositionHistory(_ context.Context, before time.Time) (int64, error) {
	f.cutoff = before
	return f.count, f.err
}

type fakePruner struct {
	calls  int
	cutoff time.Time
}

func (p *fakePruner) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	p.calls++
	p.cutoff = before
	return 2, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiverRunPrunesAfterUpload(t *testing.T) {
	blob := &fakeBlobArchiver{count: 2}
	pruner := &fakePruner{}
	a := NewArchiver(blob, pruner, 30, quiet())
	now := time.Date(2025, 3, 1, 2, 30, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Run(context.Background()))
	want := now.Add(-30 * 24 * time.Hour)
	assert.Equal(t, want, blob.cutoff)
	assert.Equal(t, 1, pruner.calls)
	assert.Equal(t, want, pruner.cutoff)
}

func TestArchiverRunSkipsPruneOnFailure(t *testing.T) {
	pruner := &fakePruner{}
	a := NewArchiver(&fakeBlobArchiver{err: errors.New("s3 down")}, pruner, 30, quiet())

	require.Error(t, a.Run(context.Background()))
	assert.Zero(t, pruner.calls)
}

func TestArchiverRunNothingArchived(t *testing.T) {
	pruner := &fakePruner{}
	a := NewArchiver(&fakeBlobArchiver{}, pruner, 30, quiet())

	require.NoError(t, a.Run(context.Background()))
	assert.Zero(t, pruner.calls)
}

func TestCronNext(t *testing.T) {
	tests := []struct {
		expr  string
		after time.Time
		want  time.Time
	}{
		{"30 2 * * *", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 2, 30, 0, 0, time.UTC)},
		{"30 2 * * *", time.Date(2025, 1, 1, 2, 30, 0, 0, time.UTC), time.Date(2025, 1, 2, 2, 30, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 15, 0, 0, time.UTC)},
		{"0 9 * * 1-5", time.Date(2025, 1, 4, 10, 0, 0, 0, time.UTC), time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := parseCron(tt.expr)
			require.NoError(t, err)
			got, err := c.next(tt.after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCronRejectsBadInput(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		_, err := parseCron(expr)
		assert.Error(t, err, expr)
	}
}

type blockingSource struct{}

func (blockingSource) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type failingMatcher struct{}

func (failingMatcher) Run(context.Context, time.Duration) error { return errors.New("boom") }

func TestOrchestratorStopsOnLoopFailure(t *testing.T) {
	o := NewOrchestrator(blockingSource{}, failingMatcher{}, time.Second, nil, "", quiet())
	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paper matcher")
}

func TestOrchestratorCleanShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := NewOrchestrator(blockingSource{}, nil, 0, nil, "", quiet())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
