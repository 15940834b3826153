package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yungbote/biograph-backend/internal/observability"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
	"github.com/yungbote/biograph-backend/internal/services"
)

const (
	JobMaterialize       = "materialize_explanations"
	JobCacheCleanup      = "lookup_cache_cleanup"
	JobProjectionRebuild = "projection_rebuild"
)

type Config struct {
	// Cron specs use the standard five fields. An empty spec disables that job.
	MaterializeSpec       string
	CacheCleanupSpec      string
	ProjectionRebuildSpec string
	Location              *time.Location
	RunTimeout            time.Duration
}

type Deps struct {
	Materializer services.MaterializerService
	Cache        services.LookupCache
	Projection   *services.ProjectionSync
}

// Scheduler runs the periodic ledger jobs. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron    *cron.Cron
	log     *logger.Logger
	metrics *observability.Metrics
	deps    Deps
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewScheduler(baseLog *logger.Logger, metrics *observability.Metrics, cfg Config, deps Deps) (*Scheduler, error) {
	log := baseLog.With("component", "JobScheduler")
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		metrics: metrics,
		deps:    deps,
		timeout: timeout,
		now:     func() time.Time { return time.Now().In(loc) },
		entries: map[string]cron.EntryID{},
	}

	add := func(name, spec string, run func(context.Context) error) error {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			return nil
		}
		id, err := s.cron.AddFunc(spec, func() { _ = s.runJob(name, run) })
		if err != nil {
			return fmt.Errorf("jobs: %s schedule %q: %w", name, spec, err)
		}
		s.entries[name] = id
		return nil
	}
	if deps.Materializer != nil {
		if err := add(JobMaterialize, cfg.MaterializeSpec, s.Materialize); err != nil {
			return nil, err
		}
	}
	if deps.Cache != nil {
		if err := add(JobCacheCleanup, cfg.CacheCleanupSpec, s.CleanupCache); err != nil {
			return nil, err
		}
	}
	if deps.Projection != nil {
		if err := add(JobProjectionRebuild, cfg.ProjectionRebuildSpec, s.RebuildProjection); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, id := range s.entries {
		s.log.Info("job scheduled", "job", name, "next_run", s.cron.Entry(id).Next)
	}
	s.cron.Start()
}

// Stop waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs still running")
	}
}

// Scheduled lists the names of jobs with a schedule.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	return out
}

func (s *Scheduler) runJob(name string, run func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	err := run(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		s.log.Error("job failed", "job", name, "duration_ms", time.Since(start).Milliseconds(), "error", err)
	} else {
		s.log.Info("job finished", "job", name, "duration_ms", time.Since(start).Milliseconds())
	}
	s.metrics.IncJobRun(name, status)
	return err
}

// Materialize rebuilds today's explanations for every root.
func (s *Scheduler) Materialize(ctx context.Context) error {
	_, err := s.deps.Materializer.Materialize(ctx, s.now(), nil)
	return err
}

func (s *Scheduler) CleanupCache(ctx context.Context) error {
	n, err := s.deps.Cache.CleanupExpired(ctx)
	if err == nil {
		s.log.Info("lookup cache cleaned", "backend", s.deps.Cache.Backend(), "deleted", n)
	}
	return err
}

func (s *Scheduler) RebuildProjection(ctx context.Context) error {
	_, err := s.deps.Projection.Rebuild(ctx, s.now())
	return err
}

// RunNow executes one job synchronously with the same bookkeeping as a scheduled run.
func (s *Scheduler) RunNow(name string) error {
	switch name {
	case JobMaterialize:
		if s.deps.Materializer == nil {
			return fmt.Errorf("jobs: %s not configured", name)
		}
		return s.runJob(name, s.Materialize)
	case JobCacheCleanup:
		if s.deps.Cache == nil {
			return fmt.Errorf("jobs: %s not configured", name)
		}
		return s.runJob(name, s.CleanupCache)
	case JobProjectionRebuild:
		if s.deps.Projection == nil {
			return fmt.Errorf("jobs: %s not configured", name)
		}
		return s.runJob(name, s.RebuildProjection)
	default:
		return fmt.Errorf("jobs: unknown job %q", name)
	}
}

type cronLogger struct{ log *logger.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
