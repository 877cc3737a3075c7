package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/api/calendar/v3"

	calclient "github.com/beekhof/calmirror/internal/calendar"
)

// WindowDays is the width of every sync window.
const WindowDays = 30

// EventService is the subset of the Calendar client the Syncer needs. Each
// instance is bound to one profile's credential.
type EventService interface {
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*calendar.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	CreateEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error)
}

// Result summarises one run.
type Result struct {
	Deleted int // destination events removed from the window
	Created int // source events copied to the destination
	Skipped int // all-day source events left out
}

func (r Result) String() string {
	return fmt.Sprintf("deleted %d, created %d, skipped %d all-day", r.Deleted, r.Created, r.Skipped)
}

// Window returns the half-open [start, end) sync range for date: UTC midnight
// of date and the UTC midnight WindowDays later.
func Window(date time.Time) (time.Time, time.Time) {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, WindowDays)
}

// Syncer replaces a destination window with a copy of the source window.
type Syncer struct {
	source EventService
	dest   EventService
	logger *slog.Logger
	dryRun bool
	plan   io.Writer
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) { s.logger = logger }
}

// WithDryRun makes Sync list both windows without deleting or creating
// anything. The events that would be created are written to plan as an
// iCalendar stream.
func WithDryRun(plan io.Writer) Option {
	return func(s *Syncer) {
		s.dryRun = true
		s.plan = plan
	}
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(source, dest EventService, opts ...Option) *Syncer {
	s := &Syncer{
		source: source,
		dest:   dest,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync mirrors the timed events of sourceID into destID for the window
// starting at startDate.
//
// The source window is listed first, so a failed listing leaves the
// destination untouched. The destination window is then listed again and
// cleared; every delete is attempted and, if any fails, Sync stops before
// creating anything. Creates follow source order and stop at the first
// failure, leaving earlier copies in place. The returned Result is valid
// even when err is non-nil.
func (s *Syncer) Sync(ctx context.Context, sourceID, destID string, startDate time.Time) (Result, error) {
	var res Result
	start, end := Window(startDate)
	logger := s.logger.With("source", sourceID, "destination", destID)
	logger.Info("starting sync", "window_start", start.Format(time.RFC3339), "window_end", end.Format(time.RFC3339), "dry_run", s.dryRun)

	events, err := s.source.ListEvents(ctx, sourceID, start, end)
	if err != nil {
		return res, fmt.Errorf("listing source events: %w", err)
	}
	logger.Debug("retrieved source events", "count", len(events))

	var toCreate []*calendar.Event
	for _, event := range events {
		if !calclient.IsTimed(event) {
			logger.Debug("skipping all-day event", "id", event.Id, "summary", event.Summary)
			res.Skipped++
			continue
		}
		toCreate = append(toCreate, event)
	}

	deleted, err := s.clear(ctx, logger, destID, start, end)
	res.Deleted = deleted
	if err != nil {
		return res, err
	}

	if s.dryRun {
		logger.Info("dry run: would create events", "count", len(toCreate))
		if s.plan != nil {
			if err := calclient.WriteICS(s.plan, toCreate); err != nil {
				return res, fmt.Errorf("writing plan: %w", err)
			}
		}
		return res, nil
	}

	for _, event := range toCreate {
		created, err := s.dest.CreateEvent(ctx, destID, event)
		if err != nil {
			logger.Error("create failed, aborting", "summary", event.Summary, "created", res.Created, "remaining", len(toCreate)-res.Created)
			return res, fmt.Errorf("creating event %d of %d: %w", res.Created+1, len(toCreate), err)
		}
		res.Created++
		logger.Debug("created event", "source_id", event.Id, "id", created.Id, "summary", event.Summary)
	}

	logger.Info("sync complete", "deleted", res.Deleted, "created", res.Created, "skipped", res.Skipped)
	return res, nil
}

// clear deletes every destination event in [start, end). Events already gone
// count as deleted. Failures are collected rather than stopping the loop.
func (s *Syncer) clear(ctx context.Context, logger *slog.Logger, destID string, start, end time.Time) (int, error) {
	existing, err := s.dest.ListEvents(ctx, destID, start, end)
	if err != nil {
		return 0, fmt.Errorf("listing destination events: %w", err)
	}
	logger.Debug("retrieved destination events", "count", len(existing))

	if s.dryRun {
		for _, event := range existing {
			logger.Info("dry run: would delete event", "id", event.Id, "summary", event.Summary)
		}
		return 0, nil
	}

	var (
		deleted int
		errs    []error
	)
	for _, event := range existing {
		err := s.dest.DeleteEvent(ctx, destID, event.Id)
		switch {
		case err == nil:
			deleted++
		case calclient.IsGone(err):
			logger.Debug("event already deleted", "id", event.Id)
			deleted++
		default:
			logger.Warn("failed to delete event", "id", event.Id, "summary", event.Summary, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return deleted, fmt.Errorf("clearing destination window: %d of %d deletes failed: %w", len(errs), len(existing), errors.Join(errs...))
	}
	return deleted, nil
}
