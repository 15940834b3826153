package graph

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
)

// ErrProjectionClosed is returned by projections used after Close.
var ErrProjectionClosed = errors.New("graph: projection closed")

// ChainEdge is the projected copy of one assertion hop in a chain.
// Evidence text, licensing and confidence inputs are never projected.
type ChainEdge struct {
	AssertionID uuid.UUID `json:"assertion_id"`
	Predicate   string    `json:"predicate"`
	FromType    string    `json:"from_type"`
	FromID      string    `json:"from_id"`
	ToType      string    `json:"to_type"`
	ToID        string    `json:"to_id"`
	Score       *float64  `json:"score,omitempty"`
	Band        string    `json:"band,omitempty"`
	LinkMethod  string    `json:"link_method,omitempty"`
}

// Chain is the projected copy of one materialized explanation row.
type Chain struct {
	ExplanationID uuid.UUID   `json:"explanation_id"`
	RootID        string      `json:"root_id"`
	AsOfDate      time.Time   `json:"as_of_date"`
	StrengthScore float64     `json:"strength_score"`
	Edges         []ChainEdge `json:"edges"`
}

// Key is the chain's entity path. Edges are ordered root first.
func (c Chain) Key() ledger.ChainKey {
	k := ledger.ChainKey{Root: c.RootID}
	if len(c.Edges) > 0 {
		k.Mid = c.Edges[0].ToID
	}
	if len(c.Edges) > 1 {
		k.Target = c.Edges[1].ToID
	}
	if len(c.Edges) > 2 {
		k.Leaf = c.Edges[2].ToID
	}
	return k
}

// EdgeFromAssertion copies the display-safe fields of an assertion.
func EdgeFromAssertion(a *types.Assertion) ChainEdge {
	e := ChainEdge{
		AssertionID: a.ID,
		Predicate:   a.Predicate,
		FromType:    a.SubjectType,
		FromID:      a.SubjectID,
		ToType:      a.ObjectType,
		ToID:        a.ObjectID,
		LinkMethod:  string(a.LinkMethod),
	}
	if a.ConfidenceScore != nil {
		s := *a.ConfidenceScore
		e.Score = &s
	}
	if a.ConfidenceBand != nil {
		e.Band = string(*a.ConfidenceBand)
	}
	return e
}

// Projection is a rebuildable, read-optimized copy of materialized chains.
// Implementations never write to the authoritative store.
type Projection interface {
	Backend() string
	Ping(ctx context.Context) error
	// ReplaceChains makes the projection's chains for each root in rootIDs on asOf
	// equal to the given set. Chains for roots outside rootIDs are left alone.
	ReplaceChains(ctx context.Context, asOf time.Time, rootIDs []string, chains []Chain) error
	ChainsForRoot(ctx context.Context, rootID string, asOf time.Time) ([]Chain, error)
	// Roots lists the roots holding at least one chain on asOf.
	Roots(ctx context.Context, asOf time.Time) ([]string, error)
	Close(ctx context.Context) error
}

func asOfKey(t time.Time) string {
	return ledger.DateOnly(t).Format(time.DateOnly)
}

func sortChains(chains []Chain) {
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].Key().String() < chains[j].Key().String()
	})
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
