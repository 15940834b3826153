package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/yungbote/biograph-backend/internal/data/aggregates"
	"github.com/yungbote/biograph-backend/internal/data/repos"
	types "github.com/yungbote/biograph-backend/internal/domain"
	domainagg "github.com/yungbote/biograph-backend/internal/domain/aggregates"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/observability"
	"github.com/yungbote/biograph-backend/internal/platform/dbctx"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

// ChainLink is one hop of the fixed explanation shape.
type ChainLink struct {
	SubjectType string `json:"subject_type"`
	Predicate   string `json:"predicate"`
	ObjectType  string `json:"object_type"`
}

// ChainShape is Root -> Mid -> Target -> Leaf. Each hop's object type is the next hop's subject type.
type ChainShape struct {
	Links [3]ChainLink `json:"links"`
}

func DefaultChainShape() ChainShape {
	return ChainShape{Links: [3]ChainLink{
		{SubjectType: "issuer", Predicate: "has_program", ObjectType: "drug_program"},
		{SubjectType: "drug_program", Predicate: "targets", ObjectType: "target"},
		{SubjectType: "target", Predicate: "indicated_for", ObjectType: "disease"},
	}}
}

func (s ChainShape) Validate() error {
	for i, l := range s.Links {
		if strings.TrimSpace(l.SubjectType) == "" || strings.TrimSpace(l.Predicate) == "" || strings.TrimSpace(l.ObjectType) == "" {
			return fmt.Errorf("chain shape: hop %d incomplete", i)
		}
		if i > 0 && s.Links[i-1].ObjectType != l.SubjectType {
			return fmt.Errorf("chain shape: hop %d subject %q does not continue %q", i, l.SubjectType, s.Links[i-1].ObjectType)
		}
	}
	return nil
}

type MaterializerConfig struct {
	Shape ChainShape
	// MissingConfidence stands in for a hop whose assertion has no stored score.
	MissingConfidence float64
	// DiffThreshold is the minimum strength change reported as "changed".
	DiffThreshold float64
	Parallelism   int
}

func DefaultMaterializerConfig() MaterializerConfig {
	return MaterializerConfig{
		Shape:             DefaultChainShape(),
		MissingConfidence: 0.5,
		DiffThreshold:     0.05,
		Parallelism:       4,
	}
}

// ProjectionSink receives the scope of each committed materialization run.
type ProjectionSink interface {
	Enqueue(asOf time.Time, rootIDs []string) bool
}

type MaterializeStats struct {
	AsOfDate  string `json:"as_of_date"`
	Roots     int    `json:"roots"`
	Chains    int    `json:"chains"`
	Written   int64  `json:"written"`
	Unchanged int64  `json:"unchanged"`
	Deleted   int64  `json:"deleted"`
}

func (s *MaterializeStats) add(o MaterializeStats) {
	s.Roots += o.Roots
	s.Chains += o.Chains
	s.Written += o.Written
	s.Unchanged += o.Unchanged
	s.Deleted += o.Deleted
}

type ChainSnapshot struct {
	ExplanationID uuid.UUID       `json:"explanation_id"`
	Key           ledger.ChainKey `json:"key"`
	AssertionIDs  []uuid.UUID     `json:"assertion_ids"`
	StrengthScore float64         `json:"strength_score"`
}

type ChangedChain struct {
	Key    ledger.ChainKey `json:"key"`
	Before ChainSnapshot   `json:"before"`
	After  ChainSnapshot   `json:"after"`
	Delta  float64         `json:"delta"`
}

type DiffResult struct {
	SinceDate string          `json:"since_date"`
	AsOfDate  string          `json:"as_of_date"`
	RootID    string          `json:"root_id,omitempty"`
	Added     []ChainSnapshot `json:"added"`
	Removed   []ChainSnapshot `json:"removed"`
	Changed   []ChangedChain  `json:"changed"`
}

type MaterializerService interface {
	// Materialize rebuilds the explanation rows of asOf for rootIDs (every root with a
	// valid first hop, plus every root already materialized on that date, when empty).
	Materialize(ctx context.Context, asOf time.Time, rootIDs []string) (*MaterializeStats, error)
	Diff(ctx context.Context, since, asOf time.Time, rootID string) (*DiffResult, error)
	Config() MaterializerConfig
}

type materializerService struct {
	db           *gorm.DB
	log          *logger.Logger
	assertions   repos.AssertionRepo
	explanations repos.ExplanationRepo
	metrics      *observability.Metrics
	sink         ProjectionSink
	cfg          MaterializerConfig
	group        singleflight.Group
}

func NewMaterializerService(
	db *gorm.DB,
	baseLog *logger.Logger,
	assertions repos.AssertionRepo,
	explanations repos.ExplanationRepo,
	metrics *observability.Metrics,
	sink ProjectionSink,
	cfg MaterializerConfig,
) (MaterializerService, error) {
	if cfg.Shape == (ChainShape{}) {
		cfg.Shape = DefaultChainShape()
	}
	if err := cfg.Shape.Validate(); err != nil {
		return nil, err
	}
	if cfg.MissingConfidence < 0 || cfg.MissingConfidence > 1 {
		return nil, fmt.Errorf("materializer: missing confidence %v outside [0,1]", cfg.MissingConfidence)
	}
	if cfg.DiffThreshold < 0 {
		return nil, fmt.Errorf("materializer: diff threshold must be >= 0")
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &materializerService{
		db:           db,
		log:          baseLog.With("service", "MaterializerService"),
		assertions:   assertions,
		explanations: explanations,
		metrics:      metrics,
		sink:         sink,
		cfg:          cfg,
	}, nil
}

func (s *materializerService) Config() MaterializerConfig { return s.cfg }

func (s *materializerService) Materialize(ctx context.Context, asOf time.Time, rootIDs []string) (*MaterializeStats, error) {
	const op = "services.Materialize"
	day := ledger.DateOnly(asOf)
	stats := &MaterializeStats{AsOfDate: day.Format(time.DateOnly)}

	ctx, span := observability.StartSpan(ctx, "materialize", attribute.String("as_of_date", stats.AsOfDate))
	defer span.End()

	roots := uniqueSorted(rootIDs)
	if len(roots) == 0 {
		discovered, err := s.discoverRoots(ctx, day)
		if err != nil {
			return nil, aggregates.MapError(op, err)
		}
		roots = discovered
	}
	if len(roots) == 0 {
		return stats, nil
	}

	results := make([]MaterializeStats, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, root := range roots {
		i, root := i, root
		g.Go(func() error {
			key := root + "|" + stats.AsOfDate
			v, err, _ := s.group.Do(key, func() (any, error) {
				return s.materializeRoot(gctx, day, root)
			})
			if err != nil {
				return err
			}
			results[i] = v.(MaterializeStats)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, aggregates.MapError(op, err)
	}
	for _, r := range results {
		stats.add(r)
	}

	s.metrics.AddMaterializedRows("written", stats.Written)
	s.metrics.AddMaterializedRows("unchanged", stats.Unchanged)
	s.metrics.AddMaterializedRows("deleted", stats.Deleted)
	if s.sink != nil {
		if !s.sink.Enqueue(day, roots) {
			s.log.Warn("projection sync queue full; projection will lag until the next rebuild", "as_of_date", stats.AsOfDate)
		}
	}
	s.log.Info("materialized explanations",
		"as_of_date", stats.AsOfDate,
		"roots", stats.Roots,
		"chains", stats.Chains,
		"written", stats.Written,
		"unchanged", stats.Unchanged,
		"deleted", stats.Deleted,
	)
	return stats, nil
}

func (s *materializerService) discoverRoots(ctx context.Context, day time.Time) ([]string, error) {
	first := s.cfg.Shape.Links[0]
	dbc := dbctx.Context{Ctx: ctx}
	rows, err := s.assertions.ListValidAt(dbc, repos.ValidAtQuery{
		At:          ledger.EndOfDay(day),
		SubjectType: first.SubjectType,
		Predicates:  []string{first.Predicate},
		ObjectType:  first.ObjectType,
	})
	if err != nil {
		return nil, err
	}
	existing, err := s.explanations.ListRoots(dbc, day)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows)+len(existing))
	for _, a := range rows {
		ids = append(ids, a.SubjectID)
	}
	ids = append(ids, existing...)
	return uniqueSorted(ids), nil
}

func (s *materializerService) materializeRoot(ctx context.Context, day time.Time, root string) (MaterializeStats, error) {
	start := time.Now()
	out := MaterializeStats{Roots: 1}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := advisoryLock(tx, "explanation|"+root+"|"+day.Format(time.DateOnly)); err != nil {
			return err
		}
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		rows, err := s.buildChains(dbc, day, root)
		if err != nil {
			return err
		}
		out.Chains = len(rows)

		written, err := s.explanations.Upsert(dbc, rows)
		if err != nil {
			return err
		}
		out.Written = written
		out.Unchanged = int64(len(rows)) - written

		keep := make(map[uuid.UUID]bool, len(rows))
		for _, r := range rows {
			keep[r.ID] = true
		}
		existing, err := s.explanations.ListByDate(dbc, day, []string{root})
		if err != nil {
			return err
		}
		var stale []uuid.UUID
		for _, e := range existing {
			if !keep[e.ID] {
				stale = append(stale, e.ID)
			}
		}
		if len(stale) > 0 {
			n, err := s.explanations.DeleteByIDs(dbc, stale)
			if err != nil {
				return err
			}
			out.Deleted = n
		}
		return nil
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveMaterialize(status, time.Since(start))
	return out, err
}

// buildChains joins the three hops valid at the end of day on shared endpoints.
func (s *materializerService) buildChains(dbc dbctx.Context, day time.Time, root string) ([]*types.Explanation, error) {
	at := ledger.EndOfDay(day)
	links := s.cfg.Shape.Links

	hop := func(l ChainLink, subjects []string) (map[string][]*types.Assertion, []string, error) {
		if len(subjects) == 0 {
			return nil, nil, nil
		}
		rows, err := s.assertions.ListValidAt(dbc, repos.ValidAtQuery{
			At:          at,
			SubjectType: l.SubjectType,
			SubjectIDs:  subjects,
			ObjectType:  l.ObjectType,
			Predicates:  []string{l.Predicate},
		})
		if err != nil {
			return nil, nil, err
		}
		bySubject := make(map[string][]*types.Assertion, len(rows))
		objects := make([]string, 0, len(rows))
		for _, a := range rows {
			bySubject[a.SubjectID] = append(bySubject[a.SubjectID], a)
			objects = append(objects, a.ObjectID)
		}
		return bySubject, uniqueSorted(objects), nil
	}

	first, mids, err := hop(links[0], []string{root})
	if err != nil {
		return nil, err
	}
	second, targets, err := hop(links[1], mids)
	if err != nil {
		return nil, err
	}
	third, _, err := hop(links[2], targets)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var out []*types.Explanation
	for _, rm := range first[root] {
		for _, mt := range second[rm.ObjectID] {
			for _, tl := range third[mt.ObjectID] {
				key := ledger.ChainKey{Root: root, Mid: rm.ObjectID, Target: mt.ObjectID, Leaf: tl.ObjectID}
				e := &types.Explanation{
					ID:                  ledger.ExplanationID(key, day),
					RootEntityID:        key.Root,
					MidEntityID:         key.Mid,
					TargetEntityID:      key.Target,
					LeafEntityID:        key.Leaf,
					AsOfDate:            day,
					RootMidAssertion:    rm.ID,
					MidTargetAssertion:  mt.ID,
					TargetLeafAssertion: tl.ID,
					StrengthScore:       s.strength(rm, mt, tl),
					CreatedAt:           now,
					UpdatedAt:           now,
				}
				e.RowHash = ledger.ComputeRowHash(e)
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainKey().String() < out[j].ChainKey().String() })
	return out, nil
}

// strength multiplies the three hop scores; a hop without a stored score counts as MissingConfidence.
func (s *materializerService) strength(hops ...*types.Assertion) float64 {
	v := 1.0
	for _, a := range hops {
		if a.ConfidenceScore != nil {
			v *= *a.ConfidenceScore
		} else {
			v *= s.cfg.MissingConfidence
		}
	}
	return round6(v)
}

func (s *materializerService) Diff(ctx context.Context, since, asOf time.Time, rootID string) (*DiffResult, error) {
	const op = "services.Diff"
	sinceDay := ledger.DateOnly(since)
	asOfDay := ledger.DateOnly(asOf)
	var roots []string
	if r := strings.TrimSpace(rootID); r != "" {
		roots = []string{r}
	}
	dbc := dbctx.Context{Ctx: ctx}
	before, err := s.explanations.ListByDate(dbc, sinceDay, roots)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	after, err := s.explanations.ListByDate(dbc, asOfDay, roots)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	res := DiffChains(before, after, s.cfg.DiffThreshold)
	res.SinceDate = sinceDay.Format(time.DateOnly)
	res.AsOfDate = asOfDay.Format(time.DateOnly)
	res.RootID = strings.TrimSpace(rootID)
	return res, nil
}

// DiffChains compares two snapshots by chain key. Swapping the arguments swaps Added and Removed.
func DiffChains(before, after []*types.Explanation, threshold float64) *DiffResult {
	prev := make(map[string]*types.Explanation, len(before))
	for _, e := range before {
		prev[e.ChainKey().String()] = e
	}
	next := make(map[string]*types.Explanation, len(after))
	for _, e := range after {
		next[e.ChainKey().String()] = e
	}

	res := &DiffResult{Added: []ChainSnapshot{}, Removed: []ChainSnapshot{}, Changed: []ChangedChain{}}
	for k, e := range next {
		old, ok := prev[k]
		if !ok {
			res.Added = append(res.Added, snapshotOf(e))
			continue
		}
		delta := round6(e.StrengthScore - old.StrengthScore)
		if math.Abs(delta) > threshold {
			res.Changed = append(res.Changed, ChangedChain{Key: e.ChainKey(), Before: snapshotOf(old), After: snapshotOf(e), Delta: delta})
		}
	}
	for k, e := range prev {
		if _, ok := next[k]; !ok {
			res.Removed = append(res.Removed, snapshotOf(e))
		}
	}
	sort.Slice(res.Added, func(i, j int) bool { return res.Added[i].Key.String() < res.Added[j].Key.String() })
	sort.Slice(res.Removed, func(i, j int) bool { return res.Removed[i].Key.String() < res.Removed[j].Key.String() })
	sort.Slice(res.Changed, func(i, j int) bool { return res.Changed[i].Key.String() < res.Changed[j].Key.String() })
	return res
}

func snapshotOf(e *types.Explanation) ChainSnapshot {
	return ChainSnapshot{
		ExplanationID: e.ID,
		Key:           e.ChainKey(),
		AssertionIDs:  e.AssertionIDs(),
		StrengthScore: e.StrengthScore,
	}
}

// advisoryLock serializes writers of one (root, date) across processes on Postgres.
// Other dialects rely on the upsert.
func advisoryLock(tx *gorm.DB, key string) error {
	if tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
		return domainagg.Wrap(domainagg.CodeRetryable, "services.advisoryLock", err)
	}
	return nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
