package export

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/pocketpilot/internal/jobs"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/dvloznov/pocketpilot/internal/store"
	"github.com/rs/zerolog"
)

// SnapshotFunc returns the data to export for userID.
type SnapshotFunc func(ctx context.Context, userID string) (Snapshot, error)

// BackendSnapshot reads the export data straight from the backend, so jobs
// still run after their user signs out.
func BackendSnapshot(client remote.Client) SnapshotFunc {
	return func(ctx context.Context, userID string) (Snapshot, error) {
		var snap Snapshot
		var err error
		if snap.Transactions, err = store.Fetch(ctx, store.TransactionSchema(), client, userID); err != nil {
			return Snapshot{}, err
		}
		if snap.Budgets, err = store.Fetch(ctx, store.BudgetSchema(), client, userID); err != nil {
			return Snapshot{}, err
		}
		if snap.Accounts, err = store.Fetch(ctx, store.AccountSchema(), client, userID); err != nil {
			return Snapshot{}, err
		}
		return snap, nil
	}
}

// Runner executes export jobs from the job queue.
type Runner struct {
	snapshot SnapshotFunc
	dests    map[string]Destination
	mirror   *NotionMirror
	log      zerolog.Logger
	now      func() time.Time
}

// NewRunner creates a runner that exports snapshots returned by snapshot.
func NewRunner(snapshot SnapshotFunc, log zerolog.Logger) *Runner {
	return &Runner{
		snapshot: snapshot,
		dests:    make(map[string]Destination),
		log:      log.With().Str("component", "export").Logger(),
		now:      time.Now,
	}
}

// Register makes d available under name (jobs.DestinationDir, jobs.DestinationGCS).
func (r *Runner) Register(name string, d Destination) {
	r.dests[name] = d
}

// SetMirror enables the jobs.DestinationNotion destination.
func (r *Runner) SetMirror(m *NotionMirror) {
	r.mirror = m
}

// Destinations lists the registered destination names, Notion included when
// configured.
func (r *Runner) Destinations() []string {
	names := make([]string, 0, len(r.dests)+1)
	for _, n := range []string{jobs.DestinationDir, jobs.DestinationGCS} {
		if _, ok := r.dests[n]; ok {
			names = append(names, n)
		}
	}
	if r.mirror != nil {
		names = append(names, jobs.DestinationNotion)
	}
	return names
}

// Handle implements jobs.JobHandler. On success the job's Location is set.
func (r *Runner) Handle(ctx context.Context, job jobs.Job) error {
	ej, ok := job.(*jobs.ExportJob)
	if !ok {
		return fmt.Errorf("Handle: unsupported job type %s", job.GetType())
	}

	opts := Options{
		Format:      Format(ej.Format),
		Type:        ReportType(ej.ReportType),
		From:        ej.From,
		To:          ej.To,
		GeneratedAt: r.now(),
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("Handle: %w", err)
	}

	snap, err := r.snapshot(ctx, ej.UserID)
	if err != nil {
		return fmt.Errorf("Handle: loading snapshot: %w", err)
	}

	log := r.log.With().Str("job_id", ej.JobID).Str("user_id", ej.UserID).Str("destination", ej.Destination).Logger()

	if ej.Destination == jobs.DestinationNotion {
		if r.mirror == nil {
			return fmt.Errorf("Handle: notion destination is not configured")
		}
		res, err := r.mirror.Mirror(ctx, snap.InRange(opts), !opts.Bounded())
		if err != nil {
			return fmt.Errorf("Handle: %w", err)
		}
		ej.Location = "notion:" + r.mirror.DatabaseID()
		log.Info().Int("created", res.Created).Int("updated", res.Updated).Msg("Transactions mirrored to Notion")
		return nil
	}

	dest, ok := r.dests[ej.Destination]
	if !ok {
		return fmt.Errorf("Handle: unknown destination %q", ej.Destination)
	}

	doc, err := Render(snap, opts)
	if err != nil {
		return fmt.Errorf("Handle: %w", err)
	}

	loc, err := dest.Deliver(ctx, ej.UserID, doc)
	if err != nil {
		return fmt.Errorf("Handle: %w", err)
	}
	ej.Location = loc

	log.Info().Str("location", loc).Int("bytes", len(doc.Data)).Msg("Export delivered")
	return nil
}

var _ jobs.JobHandler = (*Runner)(nil).Handle
