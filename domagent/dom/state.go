package dom

import (
	"sort"
	"time"
)

// SimplifiedNode wraps one RawNode in the filtered, indexed tree.
type SimplifiedNode struct {
	Raw      *RawNode
	Children []*SimplifiedNode

	// Index is the interactive index, nil when the node is not indexed.
	Index         *int
	IsNew         bool
	Excluded      bool // visually subsumed by a propagating ancestor
	ShouldDisplay bool

	// Interactive and Scrollable are the pass predicate results for Raw.
	Interactive bool
	Scrollable  bool
}

// PropagatingBounds is an ancestor's click-catching region handed down to
// its descendants during bounding-box filtering.
type PropagatingBounds struct {
	Tag          string
	Rect         Rect
	OriginNodeID int
	Depth        int
}

// SelectorMap maps interactive index to the node it designates. A map
// belongs to exactly one pass and is replaced, never patched.
type SelectorMap map[int]*RawNode

// Lookup returns the node for an index.
func (m SelectorMap) Lookup(index int) (*RawNode, bool) {
	n, ok := m[index]
	return n, ok
}

// Identities returns the set of stable identities present in the map.
func (m SelectorMap) Identities() map[int]struct{} {
	ids := make(map[int]struct{}, len(m))
	for _, n := range m {
		if n != nil && n.Identity() != 0 {
			ids[n.Identity()] = struct{}{}
		}
	}
	return ids
}

// Indices returns the indices in ascending order.
func (m SelectorMap) Indices() []int {
	out := make([]int, 0, len(m))
	for i := range m {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// SerializedDOMState is the atomic output of one extraction pass.
type SerializedDOMState struct {
	PassID    string
	URL       string
	Title     string
	CreatedAt time.Time

	Root      *SimplifiedNode // nil when nothing survived filtering
	Selectors SelectorMap
}

// Node returns the node designated by an interactive index.
func (s *SerializedDOMState) Node(index int) (*RawNode, bool) {
	if s == nil {
		return nil, false
	}
	return s.Selectors.Lookup(index)
}
