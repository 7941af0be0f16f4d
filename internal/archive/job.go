// Package archive implements the externally scheduled batch job that
// moves old records from the hot store to cold archival storage. Every
// record gets a durable cold copy before anything is deleted, and each
// user's delete is a single atomic batch, so the job is safe to re-run
// after a crash at any point.
package archive

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/coldstore"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/common"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/hotstore"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/logging"
	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/models"
)

// earliestPlausibleYear guards against records whose activity date was
// mangled somewhere upstream; nothing real predates the product.
const earliestPlausibleYear = 2000

// Job archives hot-store records older than the retention threshold.
type Job struct {
	hot             hotstore.ArchiveSource
	cold            coldstore.ObjectStore
	logger          logging.Logger
	retentionMonths int
	concurrency     int
}

// NewJob returns a job with the given retention threshold (in months).
// concurrency bounds how many users are processed in parallel.
func NewJob(hot hotstore.ArchiveSource, cold coldstore.ObjectStore, retentionMonths, concurrency int, logger logging.Logger) *Job {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Job{
		hot:             hot,
		cold:            cold,
		logger:          logger.With("module", "archive"),
		retentionMonths: retentionMonths,
		concurrency:     concurrency,
	}
}

// Report is the outcome of one run. The job never yields a single
// pass/fail: one user's failure must not hide the others' progress.
type Report struct {
	Users       int
	FailedUsers int
	Archived    int
	Skipped     int
}

// Run executes one archival pass with the given wall-clock time. It
// returns an error only when the user listing itself fails; per-user
// failures are counted in the report.
func (j *Job) Run(ctx context.Context, now time.Time) (Report, error) {
	cutoff := now.AddDate(0, -j.retentionMonths, 0)
	j.logger.Info(ctx, "starting archival run", "cutoff", cutoff)

	users, err := j.hot.ListUsersWithRecordsBefore(ctx, cutoff)
	if err != nil {
		return Report{}, err
	}

	var (
		mu  sync.Mutex
		rep = Report{Users: len(users)}
	)

	g := &errgroup.Group{}
	g.SetLimit(j.concurrency)
	for _, user := range users {
		user := user
		g.Go(func() error {
			archived, skipped, err := j.runUser(ctx, user, cutoff)

			mu.Lock()
			defer mu.Unlock()
			rep.Archived += archived
			rep.Skipped += skipped
			if err != nil {
				rep.FailedUsers++
				j.logger.Error(ctx, "user batch failed", "scope", user, "error", err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()

	j.logger.Info(ctx, "archival run finished",
		"users", rep.Users, "failed_users", rep.FailedUsers,
		"archived", rep.Archived, "skipped", rep.Skipped)
	return rep, nil
}

// runUser archives one user's matching records: every valid record is
// uploaded to the cold store first, then all uploaded records are removed
// from the hot store in one atomic batch. A failed upload only skips that
// record.
func (j *Job) runUser(ctx context.Context, scope string, cutoff time.Time) (archived, skipped int, err error) {
	records, err := j.hot.SelectOlderThan(ctx, scope, cutoff)
	if err != nil {
		return 0, 0, err
	}

	var archivedIDs []string
	for _, rec := range records {
		if err := validateActivityDate(rec); err != nil {
			skipped++
			j.logger.Warn(ctx, "skipping record", "scope", scope, "record_id", rec.ID, "error", err.Error())
			continue
		}

		payload, err := json.Marshal(rec)
		if err != nil {
			skipped++
			j.logger.Warn(ctx, "skipping unserializable record", "scope", scope, "record_id", rec.ID, "error", err.Error())
			continue
		}

		if err := j.cold.Archive(ctx, scope, rec.ID, payload); err != nil {
			skipped++
			j.logger.Warn(ctx, "archive upload failed, record retained", "scope", scope, "record_id", rec.ID, "error", err.Error())
			continue
		}
		archivedIDs = append(archivedIDs, rec.ID)
	}

	if len(archivedIDs) == 0 {
		return 0, skipped, nil
	}

	// Every id in archivedIDs has a durable cold copy by now. If the
	// delete fails, the next run re-uploads (idempotent overwrite) and
	// tries again.
	if err := j.hot.DeleteBatch(ctx, scope, archivedIDs); err != nil {
		return 0, skipped, err
	}
	return len(archivedIDs), skipped, nil
}

// validateActivityDate rejects records whose date is missing or outside
// any plausible range. Such records are never deleted blind.
func validateActivityDate(rec models.Record) error {
	if rec.ActivityDate.IsZero() || rec.ActivityDate.Year() < earliestPlausibleYear {
		return common.ErrBadActivityDate
	}
	return nil
}
