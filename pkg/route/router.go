package route

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Match is the result of a successful lookup.
type Match[V any] struct {
	Value  V
	Params map[string]string
	// Route is the route string the value was registered under.
	Route string
}

// Router maps paths to values through a segment tree. Children of every
// node are kept in priority order, so a depth-first search finds the match
// with the lowest priority vector first. Regex patterns are compiled once,
// at insertion. It is safe for concurrent use.
type Router[V any] struct {
	mu   sync.RWMutex
	root *node[V]
	size int
}

type node[V any] struct {
	pattern  Pattern
	re       *regexp.Regexp
	children []*node[V]

	leaf  bool
	value V
	names []string
	route string
}

// NewRouter creates an empty router.
func NewRouter[V any]() *Router[V] {
	return &Router[V]{root: &node[V]{}}
}

// Handle parses route and registers v under it. Registering the same
// patterns again replaces the value.
func (r *Router[V]) Handle(route string, v V) error {
	patterns, names, err := Parse(route)
	if err != nil {
		return err
	}
	return r.Insert(route, patterns, names, v)
}

// Insert registers v under already parsed patterns. names may be nil.
func (r *Router[V]) Insert(route string, patterns []Pattern, names []string, v V) error {
	if names != nil && len(names) != len(patterns) {
		return fmt.Errorf("%w %q: %d names for %d segments", ErrInvalidRoute, route, len(names), len(patterns))
	}
	for i, p := range patterns {
		if p.Kind == KindAnyPath && i != len(patterns)-1 {
			return fmt.Errorf("%w %q: catch-all must be the last segment", ErrInvalidRoute, route)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.root
	for _, p := range patterns {
		child, err := n.child(p)
		if err != nil {
			return fmt.Errorf("%w %q: %w", ErrInvalidRoute, route, err)
		}
		n = child
	}
	if !n.leaf {
		r.size++
	}
	n.leaf = true
	n.value = v
	n.names = names
	n.route = route
	return nil
}

// Len returns the number of registered routes.
func (r *Router[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Lookup finds the most specific route matching path.
func (r *Router[V]) Lookup(path string) (Match[V], bool) {
	segments := splitPath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	trail := make([]*node[V], 0, len(segments))
	if leaf, end := r.root.search(segments, 0, &trail); leaf != nil {
		return Match[V]{
			Value:  leaf.value,
			Params: params(leaf, trail, segments, end),
			Route:  leaf.route,
		}, true
	}
	var zero Match[V]
	return zero, false
}

// child returns the child equal to p, creating it in priority order.
func (n *node[V]) child(p Pattern) (*node[V], error) {
	for _, c := range n.children {
		if c.pattern.Equal(p) {
			return c, nil
		}
	}

	c := &node[V]{pattern: p}
	if p.Kind == KindRegex {
		re, err := compileSegment(p.Value)
		if err != nil {
			return nil, err
		}
		c.re = re
	}

	at := len(n.children)
	for i, existing := range n.children {
		if existing.pattern.Priority() > p.Priority() {
			at = i
			break
		}
	}
	n.children = append(n.children, nil)
	copy(n.children[at+1:], n.children[at:])
	n.children[at] = c
	return c, nil
}

func (n *node[V]) matches(segment string) bool {
	if n.pattern.Kind == KindRegex {
		return n.re.MatchString(segment)
	}
	return n.pattern.Matches(segment)
}

// search walks children in priority order with backtracking. It returns the
// matched leaf and the index of the first segment consumed by a trailing
// catch-all (len(segments) when there is none).
func (n *node[V]) search(segments []string, i int, trail *[]*node[V]) (*node[V], int) {
	if i == len(segments) && n.leaf {
		return n, i
	}
	for _, c := range n.children {
		if c.pattern.Kind == KindAnyPath {
			if c.leaf {
				*trail = append(*trail, c)
				return c, i
			}
			continue
		}
		if i == len(segments) || !c.matches(segments[i]) {
			continue
		}
		*trail = append(*trail, c)
		if leaf, end := c.search(segments, i+1, trail); leaf != nil {
			return leaf, end
		}
		*trail = (*trail)[:len(*trail)-1]
	}
	return nil, 0
}

func params[V any](leaf *node[V], trail []*node[V], segments []string, end int) map[string]string {
	out := make(map[string]string)
	for depth, n := range trail {
		if n.pattern.Kind == KindAnyPath {
			if depth < len(leaf.names) && leaf.names[depth] != "" {
				out[leaf.names[depth]] = strings.Join(segments[end:], "/")
			}
			break
		}
		seg := segments[depth]
		if depth < len(leaf.names) && leaf.names[depth] != "" {
			out[leaf.names[depth]] = seg
		}
		if n.re != nil && n.re.NumSubexp() > 0 {
			sub := n.re.FindStringSubmatch(seg)
			for k, name := range n.re.SubexpNames() {
				if name != "" && k < len(sub) {
					out[name] = sub[k]
				}
			}
		}
	}
	return out
}

func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
