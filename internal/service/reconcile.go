package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
	"github.com/GulDilin/image-deduplication-storage/internal/metrics"
)

// ReconcileOptions configures a Reconciler.
type ReconcileOptions struct {
	// MinAge protects files that may belong to an ingest still in flight.
	MinAge  time.Duration
	Workers int
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	DryRun  bool
	Scanned int
	// Orphans are stored files no record references.
	Orphans []string
	// Missing are image ids whose stored file is gone.
	Missing []string
	// StaleThumbnails are thumbnail ids whose stored file is gone.
	StaleThumbnails []string
}

// Reconciler brings the content store and the records back in line:
// orphan files are deleted and records without files are removed.
type Reconciler struct {
	store    domain.Store
	files    domain.ContentStore
	registry *ImageRegistry
	thumbs   *ThumbnailCache
	metrics  *metrics.Metrics
	opts     ReconcileOptions
	now      func() time.Time
}

func NewReconciler(store domain.Store, files domain.ContentStore, registry *ImageRegistry, thumbs *ThumbnailCache, m *metrics.Metrics, opts ReconcileOptions) *Reconciler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Reconciler{
		store:    store,
		files:    files,
		registry: registry,
		thumbs:   thumbs,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// Run performs one pass. With dryRun nothing is changed.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*ReconcileReport, error) {
	report := &ReconcileReport{DryRun: dryRun}

	if err := r.sweepOrphans(ctx, report); err != nil {
		return report, err
	}
	if err := r.sweepMissing(ctx, report); err != nil {
		return report, err
	}

	sort.Strings(report.Orphans)
	slog.Info("reconciliation finished",
		"dry_run", dryRun,
		"scanned", report.Scanned,
		"orphans", len(report.Orphans),
		"missing", len(report.Missing),
		"stale_thumbnails", len(report.StaleThumbnails))
	return report, nil
}

func (r *Reconciler) sweepOrphans(ctx context.Context, report *ReconcileReport) error {
	objects, err := r.files.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: list stored files: %w", domain.ErrStorage, err)
	}
	report.Scanned = len(objects)
	cutoff := r.now().Add(-r.opts.MinAge)

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, obj := range objects {
		if obj.ModTime.After(cutoff) {
			continue
		}
		sn, ok := domain.ParseFilename(obj.Name)
		if !ok {
			slog.Debug("skipping foreign file", "file", obj.Name)
			continue
		}
		g.Go(func() error {
			referenced, err := r.referenced(ctx, sn)
			if err != nil {
				return fmt.Errorf("check %s: %w", obj.Name, err)
			}
			if referenced {
				return nil
			}
			// A render may have rewritten the name since the listing, so the
			// age rule is checked again against the current object.
			current, err := r.files.Stat(ctx, obj.Name)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: stat %s: %w", domain.ErrStorage, obj.Name, err)
			}
			if current.ModTime.After(cutoff) {
				slog.Debug("skipping rewritten file", "file", obj.Name)
				return nil
			}
			if !report.DryRun {
				if err := r.files.Delete(ctx, obj.Name); err != nil {
					return fmt.Errorf("%w: delete orphan %s: %w", domain.ErrStorage, obj.Name, err)
				}
				slog.Info("orphan file removed", "file", obj.Name)
			}
			mu.Lock()
			report.Orphans = append(report.Orphans, obj.Name)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	if !report.DryRun {
		r.metrics.OrphansRemoved(len(report.Orphans))
	}
	return err
}

// referenced reports whether a committed record owns the parsed name.
func (r *Reconciler) referenced(ctx context.Context, sn domain.StoredName) (bool, error) {
	var err error
	if sn.Thumbnail {
		var thumb *domain.Thumbnail
		thumb, err = r.store.Thumbnails().GetBySize(ctx, sn.ImageID, sn.Width, sn.Height)
		if err == nil {
			return thumb.FileType == sn.FileType, nil
		}
	} else {
		var img *domain.Image
		img, err = r.store.Images().GetByID(ctx, sn.ImageID)
		if err == nil {
			return img.FileType == sn.FileType, nil
		}
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// sweepMissing collects records whose files are gone before changing
// anything, so removals do not shift the pages being read.
func (r *Reconciler) sweepMissing(ctx context.Context, report *ReconcileReport) error {
	var (
		missing []domain.Image
		stale   []domain.Thumbnail
	)
	for offset := 0; ; offset += MaxPageSize {
		images, err := r.store.Images().List(ctx, MaxPageSize, offset)
		if err != nil {
			return fmt.Errorf("list images: %w", err)
		}
		for i := range images {
			img := images[i]
			ok, err := r.files.Exists(ctx, img.Filename())
			if err != nil {
				return fmt.Errorf("%w: check %s: %w", domain.ErrStorage, img.Filename(), err)
			}
			if !ok {
				missing = append(missing, img)
				continue
			}
			thumbs, err := r.store.Thumbnails().ListByImage(ctx, img.ID)
			if err != nil {
				return fmt.Errorf("list thumbnails: %w", err)
			}
			for _, th := range thumbs {
				ok, err := r.files.Exists(ctx, th.Filename())
				if err != nil {
					return fmt.Errorf("%w: check %s: %w", domain.ErrStorage, th.Filename(), err)
				}
				if !ok {
					stale = append(stale, th)
				}
			}
		}
		if len(images) < MaxPageSize {
			break
		}
	}

	for i := range missing {
		report.Missing = append(report.Missing, missing[i].ID)
		if report.DryRun {
			continue
		}
		err := r.registry.RepairIfMissing(ctx, &missing[i])
		var ce *domain.CorruptionError
		if err != nil && !errors.As(err, &ce) {
			return err
		}
	}
	for _, th := range stale {
		report.StaleThumbnails = append(report.StaleThumbnails, th.ID)
		if report.DryRun {
			continue
		}
		if err := r.thumbs.Forget(ctx, th.ImageID, th.Width, th.Height); err != nil {
			return err
		}
	}
	return nil
}

// RunEvery reconciles on every tick until ctx is done. Failures are
// logged and the next tick proceeds.
func (r *Reconciler) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx, false); err != nil && ctx.Err() == nil {
				slog.Error("periodic reconciliation failed", "error", err)
			}
		}
	}
}
