// Package resolve turns an interactive index or a compound selector into a
// live protocol handle.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
)

// Delimiter joins the segments of a compound selector.
const Delimiter = ">>>"

// RootKind tags the search root of one selector segment.
type RootKind int

const (
	Document RootKind = iota
	ShadowRoot
	FrameDocument
)

func (k RootKind) String() string {
	switch k {
	case ShadowRoot:
		return "shadow root"
	case FrameDocument:
		return "frame document"
	}
	return "document"
}

// Root is where the next selector segment is evaluated.
type Root struct {
	Kind   RootKind
	NodeID int
}

// Target is a resolved element. Its Ref never carries a node ID: node IDs
// are invalidated by every document fetch.
type Target struct {
	Ref   cdp.NodeRef
	Tag   string
	Attrs map[string]string

	// Node is the snapshot node the target came from, nil for selector
	// resolution.
	Node *dom.RawNode
}

// Selector returns the best-effort CSS selector for the high-level tier.
func (t *Target) Selector() string { return BestSelector(t.Tag, t.Attrs) }

// Attr returns an attribute value.
func (t *Target) Attr(name string) string { return t.Attrs[name] }

// Describe renders the target for messages.
func (t *Target) Describe() string {
	if t.Node != nil {
		return t.Node.Describe()
	}
	return "<" + t.Tag + "> " + t.Selector()
}

// Resolver resolves against one session.
type Resolver struct {
	sess   cdp.Session
	logger *slog.Logger
}

// New returns a resolver bound to sess.
func New(sess cdp.Session, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{sess: sess, logger: logger}
}

// Index resolves an interactive index from the pass's selector map.
func (r *Resolver) Index(ctx context.Context, sel dom.SelectorMap, index int) (*Target, error) {
	n, ok := sel.Lookup(index)
	if !ok || n == nil {
		return nil, dom.NotFound("resolve", "index %d is not in the current state", index)
	}
	return r.Node(ctx, n)
}

// Node resolves a snapshot node. The backend node ID is tried first; when
// it is missing or no longer resolves, attribute selectors are tried in
// order and a match is accepted only if it carries a backend node ID.
func (r *Resolver) Node(ctx context.Context, n *dom.RawNode) (*Target, error) {
	var causes []error
	if n.BackendNodeID != 0 {
		obj, err := r.sess.ResolveNode(ctx, cdp.NodeRef{BackendNodeID: n.BackendNodeID})
		if err == nil {
			return &Target{
				Ref:   cdp.NodeRef{BackendNodeID: n.BackendNodeID, ObjectID: obj},
				Tag:   n.Tag,
				Attrs: n.Attributes,
				Node:  n,
			}, nil
		}
		r.logger.Debug("resolve: backend node did not resolve", "node", n.Describe(), "error", err)
		causes = append(causes, err)
	}
	cands := Fallbacks(n.Tag, n.Attributes)
	if len(cands) == 0 {
		return nil, &dom.Error{Kind: dom.KindNotFound, Op: "resolve",
			Detail: fmt.Sprintf("%s has no usable identifier", n.Describe()), Err: errors.Join(causes...)}
	}
	doc, err := r.sess.Document(ctx, false)
	if err != nil {
		return nil, dom.Protocol("resolve", err)
	}
	for _, c := range cands {
		t, err := r.query(ctx, doc.NodeID, c)
		if err != nil {
			causes = append(causes, fmt.Errorf("%s: %w", c, err))
			continue
		}
		t.Node = n
		return t, nil
	}
	return nil, &dom.Error{Kind: dom.KindNotFound, Op: "resolve",
		Detail: fmt.Sprintf("%s: no fallback selector resolved", n.Describe()), Err: errors.Join(causes...)}
}

// query runs one selector under root and turns the match into a target.
func (r *Resolver) query(ctx context.Context, rootNodeID int, selector string) (*Target, error) {
	id, err := r.sess.QuerySelector(ctx, rootNodeID, selector)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, errors.New("no match")
	}
	return r.describe(ctx, id)
}

func (r *Resolver) describe(ctx context.Context, nodeID int) (*Target, error) {
	d, err := r.sess.DescribeNode(ctx, cdp.NodeRef{NodeID: nodeID})
	if err != nil {
		return nil, err
	}
	if d.BackendNodeID == 0 {
		return nil, errors.New("match has no backend node id")
	}
	obj, err := r.sess.ResolveNode(ctx, cdp.NodeRef{BackendNodeID: d.BackendNodeID})
	if err != nil {
		return nil, err
	}
	attrs := make(map[string]string, len(d.Attributes)/2)
	for i := 0; i+1 < len(d.Attributes); i += 2 {
		attrs[d.Attributes[i]] = d.Attributes[i+1]
	}
	return &Target{
		Ref:   cdp.NodeRef{BackendNodeID: d.BackendNodeID, ObjectID: obj},
		Tag:   strings.ToLower(d.NodeName),
		Attrs: attrs,
	}, nil
}

// Split breaks a compound selector into trimmed segments.
func Split(compound string) []string {
	var out []string
	for _, s := range strings.Split(compound, Delimiter) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Selector resolves a compound selector. Each segment runs against the
// root produced by the previous match: its shadow root, or its content
// document when it is a frame. There is no backtracking.
func (r *Resolver) Selector(ctx context.Context, compound string) (*Target, error) {
	q, err := r.Query(compound)
	if err != nil {
		return nil, err
	}
	return q.Find(ctx)
}

// Query is a compound selector bound to one fetched document, for repeated
// lookups. The document is refetched only after a lookup fails for a
// reason other than a segment matching nothing.
type Query struct {
	r    *Resolver
	segs []string
	doc  *cdp.Node
	byID map[int]*cdp.Node
}

// Query prepares compound for repeated lookups.
func (r *Resolver) Query(compound string) (*Query, error) {
	segs := Split(compound)
	if len(segs) == 0 {
		return nil, dom.NotFound("resolve", "empty selector")
	}
	return &Query{r: r, segs: segs}, nil
}

// Find runs the query once.
func (q *Query) Find(ctx context.Context) (*Target, error) {
	if q.doc == nil {
		doc, err := q.r.sess.Document(ctx, true)
		if err != nil {
			return nil, dom.Protocol("resolve", err)
		}
		q.doc, q.byID = doc, map[int]*cdp.Node{}
		indexNodes(doc, q.byID)
	}
	t, err := q.find(ctx)
	if err != nil && !errors.Is(err, errNoMatch) {
		q.doc, q.byID = nil, nil
	}
	return t, err
}

func (q *Query) find(ctx context.Context) (*Target, error) {
	r, segs := q.r, q.segs
	root := Root{Kind: Document, NodeID: q.doc.NodeID}
	last := len(segs) - 1
	for _, seg := range segs[:last] {
		id, err := r.segment(ctx, root, seg)
		if err != nil {
			return nil, err
		}
		next, ok := r.descend(ctx, q.byID, id)
		if !ok {
			return nil, &dom.Error{Kind: dom.KindNotFound, Op: "resolve",
				Detail: fmt.Sprintf("segment %q has no shadow root or frame document", seg), Err: errNoMatch}
		}
		root = next
	}
	id, err := r.segment(ctx, root, segs[last])
	if err != nil {
		return nil, err
	}
	t, err := r.describe(ctx, id)
	if err != nil {
		return nil, &dom.Error{Kind: dom.KindNotFound, Op: "resolve",
			Detail: fmt.Sprintf("segment %q", segs[last]), Err: err}
	}
	return t, nil
}

// errNoMatch marks lookups that ran cleanly and found nothing.
var errNoMatch = errors.New("no match")

func (r *Resolver) segment(ctx context.Context, root Root, seg string) (int, error) {
	id, err := r.sess.QuerySelector(ctx, root.NodeID, seg)
	if err != nil {
		return 0, &dom.Error{Kind: dom.KindNotFound, Op: "resolve",
			Detail: fmt.Sprintf("segment %q in %s", seg, root.Kind), Err: err}
	}
	if id == 0 {
		return 0, &dom.Error{Kind: dom.KindNotFound, Op: "resolve",
			Detail: fmt.Sprintf("segment %q matched nothing in %s", seg, root.Kind), Err: errNoMatch}
	}
	return id, nil
}

func (r *Resolver) descend(ctx context.Context, byID map[int]*cdp.Node, nodeID int) (Root, bool) {
	n := byID[nodeID]
	if n == nil {
		d, err := r.sess.DescribeNode(ctx, cdp.NodeRef{NodeID: nodeID})
		if err != nil {
			r.logger.Debug("resolve: describe failed", "node_id", nodeID, "error", err)
			return Root{}, false
		}
		n = d
	}
	if len(n.ShadowRoots) > 0 {
		return Root{Kind: ShadowRoot, NodeID: n.ShadowRoots[0].NodeID}, true
	}
	if n.ContentDocument != nil {
		return Root{Kind: FrameDocument, NodeID: n.ContentDocument.NodeID}, true
	}
	return Root{}, false
}

func indexNodes(n *cdp.Node, out map[int]*cdp.Node) {
	if n == nil {
		return
	}
	out[n.NodeID] = n
	for _, c := range n.Children {
		indexNodes(c, out)
	}
	for _, s := range n.ShadowRoots {
		indexNodes(s, out)
	}
	indexNodes(n.ContentDocument, out)
}

// Fallbacks returns the attribute selectors tried when a node has no
// usable backend identifier: #id, [name=...], tag[type=...].
func Fallbacks(tag string, attrs map[string]string) []string {
	var out []string
	if id := attrs["id"]; id != "" {
		out = append(out, idSelector(id))
	}
	if name := attrs["name"]; name != "" {
		out = append(out, "[name="+cdp.CSSString(name)+"]")
	}
	if typ := attrs["type"]; typ != "" && tag != "" {
		out = append(out, tag+"[type="+cdp.CSSString(typ)+"]")
	}
	return out
}

// BestSelector derives a selector from attributes: id, then name, then
// tag and type, then the bare tag.
func BestSelector(tag string, attrs map[string]string) string {
	if id := attrs["id"]; id != "" {
		return idSelector(id)
	}
	if name := attrs["name"]; name != "" {
		return tag + "[name=" + cdp.CSSString(name) + "]"
	}
	if typ := attrs["type"]; typ != "" {
		return tag + "[type=" + cdp.CSSString(typ) + "]"
	}
	return tag
}

// idSelector returns #id, or an attribute selector when id is not a plain
// identifier.
func idSelector(id string) string {
	plain := id != "" && !(id[0] >= '0' && id[0] <= '9')
	for i := 0; plain && i < len(id); i++ {
		c := id[i]
		plain = c == '-' || c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
	}
	if plain {
		return "#" + id
	}
	return "[id=" + cdp.CSSString(id) + "]"
}
