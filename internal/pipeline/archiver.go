package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// HistoryPruner removes archived rows from the database.
type HistoryPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves closed-position history older than the retention window
// to cold storage and, when a pruner is set, removes it from the database.
type Archiver struct {
	blobArchiver  domain.Archiver
	pruner        HistoryPruner
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver. pruner may be nil to keep rows after
// upload.
func NewArchiver(blobArchiver domain.Archiver, pruner HistoryPruner, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		pruner:        pruner,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run executes a single archive run. Rows are only pruned after the upload
// succeeded, and the prune uses the same cutoff as the upload.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.ArchivePositionHistory(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving position history before %v: %w", cutoff, err)
	}
	if archived == 0 {
		a.logger.Info("archive run complete, nothing to archive")
		return nil
	}

	var pruned int64
	if a.pruner != nil {
		pruned, err = a.pruner.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning position history before %v: %w", cutoff, err)
		}
	}

	a.logger.Info("archive run complete",
		slog.Int64("archived", archived),
		slog.Int64("pruned", pruned),
	)
	return nil
}

// RunCron runs the archiver on a cron schedule until the context is cancelled.
// Expressions use the standard 5-field format
// "minute hour day-of-month month day-of-week"; each field accepts "*",
// lists, ranges ("1-5") and steps ("*/15").
//
// Example: "30 2 * * *" runs at 02:30 UTC every day.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := cron.next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("cron %q: %w", cronExpr, err)
		}

		wait := time.Until(next)
		a.logger.Debug("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField is the set of values a single cron field matches.
type cronField struct {
	any    bool
	values map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.any || f.values[v]
}

// parseCronField parses one field within [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{any: true}, nil
	}
	f := cronField{values: map[int]bool{}}
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step %q", part)
			}
			step, part = n, base
		}

		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err1, err2 error
			from, err1 = strconv.Atoi(a)
			to, err2 = strconv.Atoi(b)
			if err1 != nil || err2 != nil {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid value %q: %w", part, err)
			}
			from, to = v, v
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("%q out of range [%d, %d]", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			f.values[v] = true
		}
	}
	return f, nil
}

type cronSchedule struct {
	minute, hour, dayOfMonth, month, dayOfWeek cronField
}

func (c cronSchedule) matches(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// next returns the first matching minute strictly after after. The search
// is bounded to one year.
func (c cronSchedule) next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for ; t.Before(limit); t = t.Add(time.Minute) {
		if c.matches(t) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no matching time within one year")
}

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, field := range fields {
		f, err := parseCronField(field, bounds[i][0], bounds[i][1])
		if err != nil {
			return cronSchedule{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = f
	}
	return cronSchedule{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}
