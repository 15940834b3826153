package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/biograph-backend/internal/data/graph"
	"github.com/yungbote/biograph-backend/internal/data/repos"
	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/observability"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

type syncJob struct {
	asOf  time.Time
	roots []string
}

// ProjectionSync copies authoritative explanation rows into a projection. Writes to the
// ledger never wait on it; a full queue drops the batch and the next rebuild catches up.
type ProjectionSync struct {
	log          *logger.Logger
	metrics      *observability.Metrics
	projection   graph.Projection
	explanations repos.ExplanationRepo
	assertions   repos.AssertionRepo

	queue     chan syncJob
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

func NewProjectionSync(
	baseLog *logger.Logger,
	metrics *observability.Metrics,
	projection graph.Projection,
	explanations repos.ExplanationRepo,
	assertions repos.AssertionRepo,
	queueSize int,
) *ProjectionSync {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &ProjectionSync{
		log:          baseLog.With("service", "ProjectionSync"),
		metrics:      metrics,
		projection:   projection,
		explanations: explanations,
		assertions:   assertions,
		queue:        make(chan syncJob, queueSize),
		stop:         make(chan struct{}),
	}
}

// Start launches the single sync worker. It exits when ctx is done or Stop is called.
func (s *ProjectionSync) Start(ctx context.Context) {
	if s == nil || s.projection == nil {
		return
	}
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-s.stop:
					s.drain(ctx)
					return
				case job := <-s.queue:
					s.metrics.SetProjectionQueueDepth(len(s.queue))
					if err := s.SyncNow(ctx, job.asOf, job.roots); err != nil {
						s.log.Warn("projection sync failed", "as_of_date", job.asOf.Format(time.DateOnly), "roots", len(job.roots), "error", err)
					}
				}
			}
		}()
	})
}

func (s *ProjectionSync) drain(ctx context.Context) {
	for {
		select {
		case job := <-s.queue:
			if err := s.SyncNow(ctx, job.asOf, job.roots); err != nil {
				s.log.Warn("projection sync failed during drain", "error", err)
			}
		default:
			return
		}
	}
}

// Stop drains queued batches and waits for the worker.
func (s *ProjectionSync) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Enqueue schedules a sync without blocking. It reports false when the batch was dropped.
func (s *ProjectionSync) Enqueue(asOf time.Time, rootIDs []string) bool {
	if s == nil || s.projection == nil {
		return true
	}
	roots := append([]string(nil), rootIDs...)
	select {
	case s.queue <- syncJob{asOf: ledger.DateOnly(asOf), roots: roots}:
		s.metrics.SetProjectionQueueDepth(len(s.queue))
		return true
	default:
		s.metrics.IncProjectionSync(s.projection.Backend(), "dropped")
		return false
	}
}

// SyncNow replaces the projection's chains for rootIDs on asOf with the authoritative rows.
func (s *ProjectionSync) SyncNow(ctx context.Context, asOf time.Time, rootIDs []string) error {
	if s == nil || s.projection == nil {
		return nil
	}
	backend := s.projection.Backend()
	day := ledger.DateOnly(asOf)
	dbc := dbctx.Context{Ctx: ctx}
	rows, err := s.explanations.ListByDate(dbc, day, rootIDs)
	if err != nil {
		s.metrics.IncProjectionSync(backend, "error")
		return err
	}
	ids := make([]uuid.UUID, 0, len(rows)*3)
	for _, r := range rows {
		ids = append(ids, r.AssertionIDs()...)
	}
	byID := map[uuid.UUID]*types.Assertion{}
	if len(ids) > 0 {
		list, err := s.assertions.GetByIDs(dbc, ids)
		if err != nil {
			s.metrics.IncProjectionSync(backend, "error")
			return err
		}
		for _, a := range list {
			byID[a.ID] = a
		}
	}
	chains := chainsFromRows(rows, byID)
	if err := s.projection.ReplaceChains(ctx, day, rootIDs, chains); err != nil {
		s.metrics.IncProjectionSync(backend, "error")
		return err
	}
	s.metrics.IncProjectionSync(backend, "ok")
	s.log.Debug("projection synced", "as_of_date", day.Format(time.DateOnly), "roots", len(rootIDs), "chains", len(chains))
	return nil
}

// Rebuild re-projects every root materialized on asOf and clears projected roots
// the authoritative store no longer holds. It returns the number of roots synced.
func (s *ProjectionSync) Rebuild(ctx context.Context, asOf time.Time) (int, error) {
	if s == nil || s.projection == nil {
		return 0, nil
	}
	day := ledger.DateOnly(asOf)
	roots, err := s.explanations.ListRoots(dbctx.Context{Ctx: ctx}, day)
	if err != nil {
		return 0, err
	}
	projected, err := s.projection.Roots(ctx, day)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(roots))
	for _, r := range roots {
		known[r] = true
	}
	stale := 0
	for _, r := range projected {
		if !known[r] {
			known[r] = true
			roots = append(roots, r)
			stale++
		}
	}
	if len(roots) == 0 {
		return 0, nil
	}
	if err := s.SyncNow(ctx, day, roots); err != nil {
		return 0, err
	}
	s.log.Info("projection rebuilt", "as_of_date", day.Format(time.DateOnly), "roots", len(roots), "stale_roots", stale)
	return len(roots), nil
}
