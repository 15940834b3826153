package services

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

// NodeLabelSources maps chain node types to the provider that names them.
var NodeLabelSources = map[string]types.CacheSource{
	"issuer":       ledger.CacheSourceWikidata,
	"drug_program": ledger.CacheSourceChEMBL,
	"target":       ledger.CacheSourceOpenTargets,
	"disease":      ledger.CacheSourceOpenTargets,
}

type ExplanationService interface {
	GetExplanation(ctx context.Context, rootID string, asOf time.Time, withLabels bool) (*ExplanationGraph, error)
	Store() ExplanationStore
}

type explanationService struct {
	store       ExplanationStore
	labels      LabelService
	resolvers   LabelResolvers
	log         *logger.Logger
	parallelism int
}

func NewExplanationService(store ExplanationStore, labels LabelService, resolvers LabelResolvers, baseLog *logger.Logger) ExplanationService {
	return &explanationService{
		store:       store,
		labels:      labels,
		resolvers:   resolvers,
		log:         baseLog.With("service", "ExplanationService"),
		parallelism: 8,
	}
}

func (s *explanationService) Store() ExplanationStore { return s.store }

// GetExplanation reads the graph and, when asked, decorates nodes with display labels.
// Labels never affect the graph's shape and a failed lookup leaves the identifier in place.
func (s *explanationService) GetExplanation(ctx context.Context, rootID string, asOf time.Time, withLabels bool) (*ExplanationGraph, error) {
	g, err := s.store.GetExplanation(ctx, rootID, asOf)
	if err != nil {
		return nil, err
	}
	if !withLabels || s.labels == nil {
		return g, nil
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.parallelism)
	for i := range g.Nodes {
		i := i
		src, ok := NodeLabelSources[g.Nodes[i].Type]
		if !ok {
			continue
		}
		eg.Go(func() error {
			n := &g.Nodes[i]
			l := s.labels.ResolveWithFallback(gctx, src, n.ID, s.resolvers[src], "")
			n.Label = l.Label
			n.LabelIsFallback = l.IsFallback
			return nil
		})
	}
	_ = eg.Wait()
	return g, nil
}
