// Package variant finds the shortest transform chains that turn an available
// variant into one with the requested attributes.
package variant

import (
	"log/slog"

	"github.com/mattjoyce/transmute/internal/attr"
	"github.com/mattjoyce/transmute/internal/log"
	"github.com/mattjoyce/transmute/internal/transform"
)

// Search runs breadth-first over chain depth. It holds no per-call state.
type Search struct {
	matcher  *attr.Matcher
	maxDepth int
	logger   *slog.Logger
}

// NewSearch returns a search using matcher. A maxDepth of zero bounds the
// search at len(steps)+1 for each call.
func NewSearch(matcher *attr.Matcher, maxDepth int) *Search {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Search{
		matcher:  matcher,
		maxDepth: maxDepth,
		logger:   log.WithComponent("variant-search"),
	}
}

type node struct {
	root  int
	def   *transform.VariantDefinition
	attrs attr.Set
}

type matchResult struct {
	minDepth int
	found    bool
	matches  []transform.TransformedVariant
}

func (r *matchResult) add(depth int, m transform.TransformedVariant) {
	switch {
	case !r.found:
		r.found = true
		r.minDepth = depth
		r.matches = append(r.matches, m)
	case depth < r.minDepth:
		r.minDepth = depth
		r.matches = append(r.matches[:0], m)
	case depth == r.minDepth:
		r.matches = append(r.matches, m)
	}
}

// FindMatches returns every minimal-depth way to reach requested from roots.
// Direct matches have a nil Definition.
func (s *Search) FindMatches(requested attr.Set, roots []*transform.Variant, steps []*transform.Step) []transform.TransformedVariant {
	maxDepth := s.maxDepth
	if maxDepth == 0 {
		maxDepth = len(steps) + 1
	}

	var result matchResult
	seen := make(map[seenKey]int)
	frontier := make([]node, 0, len(roots))

	for i, root := range roots {
		if s.matcher.Matches(root.Attributes, requested, false) {
			result.add(0, transform.TransformedVariant{Root: root})
		}
		n := node{root: i, attrs: root.Attributes}
		if s.visit(seen, n, 0) {
			frontier = append(frontier, n)
		}
	}

	for depth := 1; depth <= maxDepth && !result.found && len(frontier) > 0; depth++ {
		var next []node
		for _, cur := range frontier {
			for _, step := range steps {
				if !s.matcher.Matches(cur.attrs, step.From(), true) {
					continue
				}
				attrs := cur.attrs.With(step.To())
				n := node{root: cur.root, def: cur.def.Extend(step, attrs), attrs: attrs}
				if s.matcher.Matches(attrs, requested, false) {
					result.add(depth, transform.TransformedVariant{Root: roots[cur.root], Definition: n.def})
				}
				if s.visit(seen, n, depth) {
					next = append(next, n)
				}
			}
		}
		frontier = next
	}

	s.logger.Debug("variant search finished",
		"requested", requested.String(),
		"roots", len(roots),
		"steps", len(steps),
		"matches", len(result.matches),
		"depth", result.minDepth)

	return result.matches
}

type seenKey struct {
	root  int
	attrs string
}

// visit records n at depth and reports whether it should be expanded further.
// A node first reached at a smaller depth cannot lead to a shallower match.
func (s *Search) visit(seen map[seenKey]int, n node, depth int) bool {
	key := seenKey{root: n.root, attrs: n.attrs.Key()}
	if prev, ok := seen[key]; ok && prev < depth {
		return false
	}
	seen[key] = depth
	return true
}

// Select applies FindMatches and requires exactly one result.
func (s *Search) Select(requested attr.Set, roots []*transform.Variant, steps []*transform.Step) (transform.TransformedVariant, error) {
	matches := s.FindMatches(requested, roots, steps)
	switch len(matches) {
	case 0:
		candidates := make([]attr.Set, 0, len(roots))
		for _, r := range roots {
			candidates = append(candidates, r.Attributes)
		}
		return transform.TransformedVariant{}, &NoMatchError{Requested: requested, Candidates: candidates}
	case 1:
		return matches[0], nil
	default:
		return transform.TransformedVariant{}, &AmbiguousMatchError{Requested: requested, Matches: matches}
	}
}
