package interrupt

import (
	"path"
	"slices"

	"github.com/loomworks/loom/internal/ir"
)

// Resolver expands a wire-scope match expression into concrete wire ids
// over the current realized graph. Resolution is delegated so callers
// can plug in their own selector language.
type Resolver interface {
	ResolveWires(g *ir.RealizedGraph, match string) ([]ir.WireID, error)
}

// GlobResolver matches wire ids with path.Match patterns, e.g. "feed-*".
type GlobResolver struct{}

func (GlobResolver) ResolveWires(g *ir.RealizedGraph, match string) ([]ir.WireID, error) {
	seen := make(map[ir.WireID]bool)
	for _, e := range g.Edges {
		if e.Wire == "" || seen[e.Wire] {
			continue
		}
		ok, err := path.Match(match, string(e.Wire))
		if err != nil {
			return nil, err
		}
		if ok {
			seen[e.Wire] = true
		}
	}
	ids := make([]ir.WireID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
