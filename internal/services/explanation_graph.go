package services

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/biograph-backend/internal/data/graph"
	types "github.com/yungbote/biograph-backend/internal/domain"
	"github.com/yungbote/biograph-backend/internal/domain/ledger"
)

type ExplanationNode struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Label           string `json:"label"`
	LabelIsFallback bool   `json:"label_is_fallback,omitempty"`
}

type ExplanationEdge struct {
	Type            string      `json:"type"`
	SourceID        string      `json:"source_id"`
	TargetID        string      `json:"target_id"`
	Predicate       string      `json:"predicate"`
	ConfidenceBand  string      `json:"confidence_band"`
	ConfidenceScore *float64    `json:"confidence_score,omitempty"`
	LinkMethod      string      `json:"link_method"`
	EvidenceCount   int         `json:"evidence_count"`
	AssertionIDs    []uuid.UUID `json:"assertion_ids"`
}

type ExplanationChainRef struct {
	ExplanationID uuid.UUID   `json:"explanation_id"`
	MidID         string      `json:"mid_id"`
	TargetID      string      `json:"target_id"`
	LeafID        string      `json:"leaf_id"`
	StrengthScore float64     `json:"strength_score"`
	AssertionIDs  []uuid.UUID `json:"assertion_ids"`
}

// ExplanationGraph is the read shape of one root's chains on one date.
type ExplanationGraph struct {
	RootID   string                `json:"root_id"`
	AsOfDate string                `json:"as_of_date"`
	Nodes    []ExplanationNode     `json:"nodes"`
	Edges    []ExplanationEdge     `json:"edges"`
	Chains   []ExplanationChainRef `json:"chains"`
	Source   string                `json:"source"`
}

// chainsFromRows pairs explanation rows with their hop assertions. Rows whose
// assertions are missing are skipped.
func chainsFromRows(rows []*types.Explanation, assertions map[uuid.UUID]*types.Assertion) []graph.Chain {
	out := make([]graph.Chain, 0, len(rows))
	for _, r := range rows {
		c := graph.Chain{
			ExplanationID: r.ID,
			RootID:        r.RootEntityID,
			AsOfDate:      r.AsOfDate,
			StrengthScore: r.StrengthScore,
		}
		complete := true
		for _, id := range r.AssertionIDs() {
			a, ok := assertions[id]
			if !ok {
				complete = false
				break
			}
			c.Edges = append(c.Edges, graph.EdgeFromAssertion(a))
		}
		if complete {
			out = append(out, c)
		}
	}
	return out
}

// validChains drops chains with a hop assertion that is unknown or not valid at the end of day.
// Stored snapshots keep their rows after a retraction; reads must not.
func validChains(chains []graph.Chain, assertions map[uuid.UUID]*types.Assertion, day time.Time) []graph.Chain {
	at := ledger.EndOfDay(day)
	out := make([]graph.Chain, 0, len(chains))
	for _, c := range chains {
		valid := len(c.Edges) > 0
		for _, e := range c.Edges {
			a, ok := assertions[e.AssertionID]
			if !ok || !a.ValidAt(at) {
				valid = false
				break
			}
		}
		if valid {
			out = append(out, c)
		}
	}
	return out
}

// buildGraph folds chains into de-duplicated nodes and edges in first-seen order.
func buildGraph(rootID string, asOf time.Time, chains []graph.Chain, evidenceCounts map[uuid.UUID]int, source string) *ExplanationGraph {
	g := &ExplanationGraph{
		RootID:   rootID,
		AsOfDate: asOf.Format(time.DateOnly),
		Nodes:    []ExplanationNode{},
		Edges:    []ExplanationEdge{},
		Chains:   []ExplanationChainRef{},
		Source:   source,
	}
	seenNode := map[string]bool{}
	seenEdge := map[uuid.UUID]bool{}
	addNode := func(nodeType, id string) {
		k := nodeType + ":" + id
		if seenNode[k] {
			return
		}
		seenNode[k] = true
		g.Nodes = append(g.Nodes, ExplanationNode{ID: id, Type: nodeType, Label: id})
	}
	for _, c := range chains {
		ref := ExplanationChainRef{ExplanationID: c.ExplanationID, StrengthScore: c.StrengthScore}
		k := c.Key()
		ref.MidID, ref.TargetID, ref.LeafID = k.Mid, k.Target, k.Leaf
		for _, e := range c.Edges {
			ref.AssertionIDs = append(ref.AssertionIDs, e.AssertionID)
			addNode(e.FromType, e.FromID)
			addNode(e.ToType, e.ToID)
			if seenEdge[e.AssertionID] {
				continue
			}
			seenEdge[e.AssertionID] = true
			g.Edges = append(g.Edges, ExplanationEdge{
				Type:            strings.ToUpper(e.Predicate),
				SourceID:        e.FromID,
				TargetID:        e.ToID,
				Predicate:       e.Predicate,
				ConfidenceBand:  e.Band,
				ConfidenceScore: e.Score,
				LinkMethod:      e.LinkMethod,
				EvidenceCount:   evidenceCounts[e.AssertionID],
				AssertionIDs:    []uuid.UUID{e.AssertionID},
			})
		}
		g.Chains = append(g.Chains, ref)
	}
	return g
}

func edgeAssertionIDs(chains []graph.Chain) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, c := range chains {
		for _, e := range c.Edges {
			if !seen[e.AssertionID] {
				seen[e.AssertionID] = true
				out = append(out, e.AssertionID)
			}
		}
	}
	return out
}
