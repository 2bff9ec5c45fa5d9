// Package serializer turns a RawNode tree into the simplified, filtered and
// indexed tree handed to the decision-maker, and renders it as text.
//
// One pass runs four phases in order: simplify (candidate selection),
// optimize (wrapper removal), propagate (bounding-box exclusion) and
// assign (interactive indices). Only the last two write annotations, and
// the formatter reads them without mutating anything.
package serializer

import (
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/webpilot/domagent/dom"
)

// DefaultContainmentThreshold is the share of a descendant's area that must
// lie inside a propagating ancestor for the descendant to be excluded.
const DefaultContainmentThreshold = 0.99

// Options configures a pass.
type Options struct {
	ContainmentThreshold float64
}

func (o *Options) defaults() {
	if o.ContainmentThreshold <= 0 || o.ContainmentThreshold > 1 {
		o.ContainmentThreshold = DefaultContainmentThreshold
	}
}

var deniedTags = map[string]bool{
	"style": true, "script": true, "head": true, "meta": true, "link": true,
	"title": true, "noscript": true, "template": true,
}

// Serialize runs one pass over the document rooted at root. prev is the
// previous pass's map, used only for new-node detection; it may be nil.
func Serialize(root *dom.RawNode, prev dom.SelectorMap, opts Options) (*dom.SimplifiedNode, dom.SelectorMap) {
	opts.defaults()
	p := &pass{cache: newPredicateCache(), opts: opts}
	tree := p.simplify(root)
	tree = p.optimize(tree)
	if tree != nil {
		p.propagate(tree, nil, 0)
	}
	sel := p.assign(tree, prev)
	return tree, sel
}

type pass struct {
	cache *predicateCache
	opts  Options
}

func (p *pass) wrap(n *dom.RawNode) *dom.SimplifiedNode {
	return &dom.SimplifiedNode{
		Raw:         n,
		Interactive: p.cache.isInteractive(n),
		Scrollable:  p.cache.isScrollable(n),
	}
}

// simplify returns the candidate tree for n, nil when nothing survives.
func (p *pass) simplify(n *dom.RawNode) *dom.SimplifiedNode {
	if n == nil {
		return nil
	}
	switch n.NodeType {
	case dom.DocumentNode:
		for _, c := range n.Children {
			if c.IsElement() {
				return p.simplify(c)
			}
		}
		return nil

	case dom.DocumentFragmentNode:
		kids := p.children(n)
		if len(kids) == 0 {
			return nil
		}
		sn := p.wrap(n)
		sn.Children = kids
		return sn

	case dom.TextNode:
		t := strings.TrimSpace(n.NodeValue)
		if !p.cache.isVisible(n) || utf8.RuneCountInString(t) <= 1 {
			return nil
		}
		return &dom.SimplifiedNode{Raw: n}

	case dom.ElementNode:
		if deniedTags[n.Tag] {
			return nil
		}
		if n.IsFrame() {
			if n.ContentDocument == nil {
				return nil
			}
			sn := p.wrap(n)
			if inner := p.simplify(n.ContentDocument); inner != nil {
				sn.Children = []*dom.SimplifiedNode{inner}
			}
			return sn
		}
		sn := p.wrap(n)
		if n.Tag != "svg" {
			sn.Children = p.children(n)
		}
		visible := p.cache.isVisible(n)
		if sn.Interactive && visible || sn.Scrollable || len(sn.Children) > 0 {
			return sn
		}
		return nil
	}
	return nil
}

// children processes light-DOM children, then shadow roots. Shadow roots
// are transparent: their children are spliced in place.
func (p *pass) children(n *dom.RawNode) []*dom.SimplifiedNode {
	var out []*dom.SimplifiedNode
	add := func(c *dom.RawNode) {
		sn := p.simplify(c)
		if sn == nil {
			return
		}
		if c.NodeType == dom.DocumentFragmentNode {
			out = append(out, sn.Children...)
			return
		}
		out = append(out, sn)
	}
	for _, c := range n.Children {
		add(c)
	}
	for _, sr := range n.ShadowRoots {
		add(sr)
	}
	return out
}

// optimize drops pass-through wrappers left without surviving children.
func (p *pass) optimize(sn *dom.SimplifiedNode) *dom.SimplifiedNode {
	if sn == nil {
		return nil
	}
	kept := sn.Children[:0]
	for _, c := range sn.Children {
		if oc := p.optimize(c); oc != nil {
			kept = append(kept, oc)
		}
	}
	sn.Children = kept
	n := sn.Raw
	if n.IsText() || sn.Interactive && p.cache.isVisible(n) || sn.Scrollable || len(sn.Children) > 0 {
		return sn
	}
	return nil
}

// propagate annotates exclusion. active is the nearest propagating
// ancestor's region; a new region replaces it for the subtree.
func (p *pass) propagate(sn *dom.SimplifiedNode, active *dom.PropagatingBounds, depth int) {
	n := sn.Raw
	if active != nil && n.Bounds != nil && p.excluded(sn, active) {
		sn.Excluded = true
	}
	next := active
	if isPropagating(n) && n.Bounds != nil {
		next = &dom.PropagatingBounds{
			Tag:          n.Tag,
			Rect:         *n.Bounds,
			OriginNodeID: n.Identity(),
			Depth:        depth,
		}
	}
	for _, c := range sn.Children {
		p.propagate(c, next, depth+1)
	}
}

func (p *pass) excluded(sn *dom.SimplifiedNode, active *dom.PropagatingBounds) bool {
	n := sn.Raw
	if n.Bounds.ContainedRatio(active.Rect) < p.opts.ContainmentThreshold {
		return false
	}
	if n.IsText() || isPropagating(n) || hasHandler(n) {
		return false
	}
	switch n.Tag {
	case "input", "select", "textarea", "label":
		return false
	}
	if strings.TrimSpace(n.Attr("aria-label")) != "" {
		return false
	}
	if interactiveRoles[strings.ToLower(strings.TrimSpace(n.Attr("role")))] {
		return false
	}
	return true
}

// assign hands out indices depth first, starting at 1. Excluded nodes get
// none but their descendants are still visited.
func (p *pass) assign(root *dom.SimplifiedNode, prev dom.SelectorMap) dom.SelectorMap {
	sel := dom.SelectorMap{}
	var known map[int]struct{}
	if prev != nil {
		known = prev.Identities()
	}
	next := 1
	var visit func(sn *dom.SimplifiedNode)
	visit = func(sn *dom.SimplifiedNode) {
		n := sn.Raw
		if !sn.Excluded {
			if n.IsElement() && p.cache.isVisible(n) && (sn.Interactive || sn.Scrollable) {
				idx := next
				next++
				sn.Index = &idx
				n.AssignIndex(idx)
				sel[idx] = n
				if known != nil && n.Identity() != 0 {
					_, seen := known[n.Identity()]
					sn.IsNew = !seen
				}
			}
			sn.ShouldDisplay = sn.Index != nil || sn.Scrollable || n.IsFrame() || n.IsText()
		}
		for _, c := range sn.Children {
			visit(c)
		}
	}
	if root != nil {
		visit(root)
	}
	return sel
}
