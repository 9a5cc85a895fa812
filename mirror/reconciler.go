package mirror

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ortelius/release-mirror/metrics"
	"github.com/ortelius/release-mirror/model"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of newly completed releases between checkpoints.
const DefaultBatchSize = 10

// Options configures the reconciler
type Options struct {
	BatchSize int
	// TimeTolerance absorbs timestamp granularity when comparing modification times
	TimeTolerance time.Duration
	// Recheck re-evaluates releases that are already recorded as synced
	Recheck bool
}

// Summary counts what a run did
type Summary struct {
	Source          int // non-draft source releases
	Pending         int
	Created         int
	Updated         int
	NoChange        int
	Failed          int
	Recorded        int // size of the sync record at the end of the run
	Checkpoints     int
	PublishFailures int
}

// AssetPlan is the verdict for one source asset
type AssetPlan struct {
	Asset   model.Asset
	Verdict model.Verdict
}

// PlanEntry describes what a run would do for one release
type PlanEntry struct {
	Release model.Release
	Create  bool
	Assets  []AssetPlan
}

// Stale counts the assets that would be transferred
func (p PlanEntry) Stale() int {
	n := 0
	for _, a := range p.Assets {
		if a.Verdict.Stale() {
			n++
		}
	}
	return n
}

// Reconciler drives the sync pipeline
type Reconciler struct {
	source   Source
	target   Target
	store    Checkpointer
	transfer *Transferer
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewReconciler wires the pipeline together. m may be nil.
func NewReconciler(source Source, target Target, store Checkpointer, transfer *Transferer, opts Options, logger *zap.Logger, m *metrics.Metrics) *Reconciler {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		source:   source,
		target:   target,
		store:    store,
		transfer: transfer,
		opts:     opts,
		logger:   logger,
		metrics:  m,
	}
}

// Enumerate lists the source releases without drafts, oldest first
func (r *Reconciler) Enumerate(ctx context.Context) ([]model.Release, error) {
	all, err := r.source.ListReleases(ctx)
	if err != nil {
		return nil, err
	}

	releases := make([]model.Release, 0, len(all))
	for _, rel := range all {
		if rel.Draft {
			r.logger.Debug("skipping draft release", zap.String("tag", rel.TagName))
			continue
		}
		releases = append(releases, rel)
	}

	sort.SliceStable(releases, func(i, j int) bool {
		return releases[i].CreatedAt.Before(releases[j].CreatedAt)
	})
	return releases, nil
}

// ReconcileOne mirrors a single release. A missing target release is created with the
// source metadata and receives every asset; an existing one only receives its stale
// assets and its metadata is left alone.
func (r *Reconciler) ReconcileOne(ctx context.Context, release model.Release) model.Outcome {
	log := r.logger.With(zap.String("tag", release.TagName))

	existing, found, err := r.target.LookupRelease(ctx, release.TagName)
	if err != nil {
		return r.failed(log, fmt.Errorf("failed to look up target release: %w", err), 0)
	}

	if !found {
		created, err := r.target.CreateRelease(ctx, release)
		if err != nil {
			return r.failed(log, fmt.Errorf("failed to create target release: %w", err), 0)
		}
		log.Info("release created",
			zap.Int64("release_id", created.ID),
			zap.Bool("prerelease", release.Prerelease),
			zap.Int("assets", len(release.Assets)))

		n, err := r.syncAssets(ctx, log, release, created, nil)
		if err != nil {
			return r.failed(log, err, n)
		}
		r.metrics.ObserveRelease(model.Created)
		return model.Outcome{Kind: model.Created, Transferred: n}
	}

	targetAssets, err := r.target.ListAssets(ctx, existing.ID)
	if err != nil {
		return r.failed(log, fmt.Errorf("failed to list target assets: %w", err), 0)
	}

	n, err := r.syncAssets(ctx, log, release, existing, targetAssets)
	if err != nil {
		return r.failed(log, err, n)
	}
	if n == 0 {
		log.Info("release skipped, all assets up to date", zap.Int("assets", len(release.Assets)))
		r.metrics.ObserveRelease(model.NoChange)
		return model.Outcome{Kind: model.NoChange}
	}
	log.Info("release updated", zap.Int("transferred", n))
	r.metrics.ObserveRelease(model.Updated)
	return model.Outcome{Kind: model.Updated, Transferred: n}
}

// syncAssets transfers every stale asset. A failed asset does not stop its siblings; all
// failures are joined into the returned error.
func (r *Reconciler) syncAssets(ctx context.Context, log *zap.Logger, src, dst model.Release, dstAssets []model.Asset) (int, error) {
	var errs []error
	transferred := 0

	for _, asset := range src.Assets {
		existing := model.FindAsset(dstAssets, asset.Name)
		verdict := Evaluate(asset, existing, r.opts.TimeTolerance)
		fields := []zap.Field{
			zap.String("asset", asset.Name),
			zap.Stringer("verdict", verdict),
			zap.String("size", humanize.Bytes(uint64(max(asset.Size, 0)))),
		}

		if !verdict.Stale() {
			log.Debug("asset skipped", fields...)
			r.metrics.ObserveAsset(verdict, "skipped")
			continue
		}

		if err := r.transfer.Transfer(ctx, asset, dst, existing); err != nil {
			log.Error("asset failed", append(fields, zap.String("url", asset.DownloadURL), zap.Error(err))...)
			r.metrics.ObserveAsset(verdict, "failed")
			errs = append(errs, err)
			continue
		}

		transferred++
		log.Info("asset transferred", fields...)
		r.metrics.ObserveAsset(verdict, "transferred")
	}

	return transferred, errors.Join(errs...)
}

func (r *Reconciler) failed(log *zap.Logger, err error, transferred int) model.Outcome {
	log.Error("release failed", zap.Int("transferred", transferred), zap.Error(err))
	r.metrics.ObserveRelease(model.Failed)
	return model.Outcome{Kind: model.Failed, Transferred: transferred, Err: err}
}

// pending selects the releases this run has to reconcile
func (r *Reconciler) pending(releases []model.Release, record *model.SyncRecord) []model.Release {
	if r.opts.Recheck {
		return releases
	}
	out := make([]model.Release, 0, len(releases))
	for _, rel := range releases {
		if record.Contains(rel.TagName) {
			continue
		}
		out = append(out, rel)
	}
	return out
}

// Run performs one sync pass. Failing to list the source releases is returned as an
// error; per-release and per-asset failures are logged and left for the next run.
// If the context is cancelled, or a panic escapes, the progress made so far is
// checkpointed before the error or panic is propagated.
func (r *Reconciler) Run(ctx context.Context) (summary Summary, err error) {
	record := r.store.Load()

	releases, err := r.Enumerate(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list source releases: %w", err)
	}
	pending := r.pending(releases, record)
	summary.Source = len(releases)
	summary.Pending = len(pending)
	summary.Recorded = record.Len()

	r.logger.Info("starting sync",
		zap.Int("source_releases", len(releases)),
		zap.Int("synced", record.Len()),
		zap.Int("pending", len(pending)))

	if len(pending) == 0 {
		r.logger.Info("all releases already synced")
		r.republish(ctx, record, &summary)
		return summary, nil
	}

	sinceCheckpoint := 0
	batchStart := record.Len() + 1

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("sync aborted by panic, saving progress", zap.Any("panic", p))
			r.checkpoint(ctx, record, fmt.Sprintf("sync interrupted, %d releases recorded", record.Len()), &summary)
			panic(p)
		}
	}()

	for _, release := range pending {
		if ctx.Err() != nil {
			break
		}

		outcome := r.ReconcileOne(ctx, release)
		switch outcome.Kind {
		case model.Created:
			summary.Created++
		case model.Updated:
			summary.Updated++
		case model.NoChange:
			summary.NoChange++
		case model.Failed:
			summary.Failed++
		}
		if !outcome.Complete() {
			continue
		}

		if record.Add(release.TagName) {
			sinceCheckpoint++
		}
		summary.Recorded = record.Len()

		if sinceCheckpoint >= r.opts.BatchSize {
			r.checkpoint(ctx, record, fmt.Sprintf("sync releases %d-%d (%d total)", batchStart, record.Len(), record.Len()), &summary)
			sinceCheckpoint = 0
			batchStart = record.Len() + 1
		}
	}

	if err := ctx.Err(); err != nil {
		r.logger.Warn("sync interrupted, saving progress", zap.Int("synced", record.Len()))
		r.checkpoint(ctx, record, fmt.Sprintf("sync interrupted, %d releases recorded", record.Len()), &summary)
		return summary, fmt.Errorf("sync interrupted: %w", err)
	}

	if sinceCheckpoint > 0 {
		r.checkpoint(ctx, record, fmt.Sprintf("sync complete, %d releases recorded", record.Len()), &summary)
	} else if summary.Checkpoints == 0 {
		r.republish(ctx, record, &summary)
	}

	r.logger.Info("sync finished",
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.NoChange),
		zap.Int("failed", summary.Failed),
		zap.Int("synced", record.Len()))
	return summary, nil
}

// checkpoint saves and publishes outside of ctx cancellation so an interrupted run still flushes
func (r *Reconciler) checkpoint(ctx context.Context, record *model.SyncRecord, message string, summary *Summary) {
	ok := r.store.Checkpoint(context.WithoutCancel(ctx), record, message)
	summary.Checkpoints++
	if !ok {
		summary.PublishFailures++
	}
	r.metrics.ObserveCheckpoint(ok)
	r.metrics.SetSynced(record.Len())
}

// republish offers the unchanged record once, so a push that failed in an earlier run is retried
func (r *Reconciler) republish(ctx context.Context, record *model.SyncRecord, summary *Summary) {
	if !r.store.Publish(ctx, fmt.Sprintf("sync state, %d releases recorded", record.Len())) {
		summary.PublishFailures++
	}
}

// Plan reports what Run would do for the releases not yet in record, without writing anything
func (r *Reconciler) Plan(ctx context.Context, record *model.SyncRecord) ([]PlanEntry, error) {
	releases, err := r.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list source releases: %w", err)
	}

	var entries []PlanEntry
	for _, release := range r.pending(releases, record) {
		entry := PlanEntry{Release: release}

		existing, found, err := r.target.LookupRelease(ctx, release.TagName)
		if err != nil {
			return nil, fmt.Errorf("failed to look up target release %s: %w", release.TagName, err)
		}

		var targetAssets []model.Asset
		if found {
			if targetAssets, err = r.target.ListAssets(ctx, existing.ID); err != nil {
				return nil, fmt.Errorf("failed to list target assets of %s: %w", release.TagName, err)
			}
		} else {
			entry.Create = true
		}

		for _, asset := range release.Assets {
			entry.Assets = append(entry.Assets, AssetPlan{
				Asset:   asset,
				Verdict: Evaluate(asset, model.FindAsset(targetAssets, asset.Name), r.opts.TimeTolerance),
			})
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
