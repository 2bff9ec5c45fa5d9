// Package snapshot builds the per-pass RawNode tree from three protocol
// reads: the shadow-piercing document, the DOMSnapshot layout and the
// accessibility tree.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hazyhaar/webpilot/domagent/dom"
	"github.com/hazyhaar/webpilot/domagent/internal/cdp"
)

// Styles are the computed styles captured for every laid-out node.
var Styles = []string{
	"display", "visibility", "opacity", "overflow", "overflow-x", "overflow-y",
	"cursor", "pointer-events", "position",
}

// Build captures the page behind sess and returns its document RawNode.
// A failing accessibility read degrades to a tree without AX data.
func Build(ctx context.Context, sess cdp.Session, logger *slog.Logger) (*dom.RawNode, error) {
	if logger == nil {
		logger = slog.Default()
	}
	doc, err := sess.Document(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	lay, err := sess.CaptureSnapshot(ctx, Styles)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	ax := map[int]*cdp.AXNode{}
	if nodes, err := sess.AXTree(ctx); err != nil {
		logger.Debug("snapshot: ax tree unavailable", "error", err)
	} else {
		for i := range nodes {
			if !nodes[i].Ignored {
				ax[nodes[i].BackendNodeID] = &nodes[i]
			}
		}
	}
	b := &builder{
		layout:  lay,
		ax:      ax,
		target:  sess.TargetID(),
		session: sess.SessionID(),
	}
	return b.convert(doc, nil, ""), nil
}

type builder struct {
	layout  *cdp.Layout
	ax      map[int]*cdp.AXNode
	target  string
	session string
}

func (b *builder) convert(n *cdp.Node, parent *dom.RawNode, frameID string) *dom.RawNode {
	rn := &dom.RawNode{
		NodeID:        n.NodeID,
		BackendNodeID: n.BackendNodeID,
		NodeType:      dom.NodeType(n.NodeType),
		Tag:           strings.ToLower(n.NodeName),
		NodeValue:     n.NodeValue,
		Parent:        parent,
		FrameID:       frameID,
		TargetID:      b.target,
		SessionID:     b.session,
	}
	if n.NodeType == int(dom.DocumentFragmentNode) {
		rn.ShadowRootType = n.ShadowRootType
	}
	if len(n.Attributes) > 0 {
		rn.Attributes = make(map[string]string, len(n.Attributes)/2)
		for i := 0; i+1 < len(n.Attributes); i += 2 {
			rn.Attributes[n.Attributes[i]] = n.Attributes[i+1]
		}
	}
	b.applyLayout(rn)
	if a := b.ax[n.BackendNodeID]; a != nil {
		rn.AX = &dom.AXInfo{Role: a.Role, Name: a.Name, Properties: a.Properties}
	}

	for _, c := range n.Children {
		if c.NodeType == int(dom.DocumentTypeNode) || c.NodeType == int(dom.CommentNode) {
			continue
		}
		rn.Children = append(rn.Children, b.convert(c, rn, frameID))
	}
	for _, sr := range n.ShadowRoots {
		// User-agent roots hold the browser's own control internals.
		if sr.ShadowRootType == "user-agent" {
			continue
		}
		rn.ShadowRoots = append(rn.ShadowRoots, b.convert(sr, rn, frameID))
	}
	if n.ContentDocument != nil {
		inner := n.FrameID
		if inner == "" {
			inner = frameID
		}
		rn.ContentDocument = b.convert(n.ContentDocument, rn, inner)
	}
	return rn
}

func (b *builder) applyLayout(rn *dom.RawNode) {
	if b.layout == nil {
		return
	}
	ln := b.layout.Nodes[rn.BackendNodeID]
	if ln == nil {
		return
	}
	r := ln.Bounds
	rn.Bounds = &r
	rn.Styles = ln.Styles
	rn.Clickable = ln.Clickable
	rn.Visible = visible(rn)
	if ln.ClientRect != nil && ln.ScrollRect != nil {
		rn.Scroll = &dom.ScrollInfo{
			ScrollLeft:   ln.ScrollRect.X,
			ScrollTop:    ln.ScrollRect.Y,
			ScrollWidth:  ln.ScrollRect.Width,
			ScrollHeight: ln.ScrollRect.Height,
			ClientWidth:  ln.ClientRect.Width,
			ClientHeight: ln.ClientRect.Height,
		}
		rn.Scrollable = scrollable(rn)
	}
}

func visible(rn *dom.RawNode) bool {
	if rn.Bounds == nil || rn.Bounds.Empty() {
		return false
	}
	if rn.NodeType == dom.TextNode {
		return true
	}
	if rn.Style("display") == "none" {
		return false
	}
	switch rn.Style("visibility") {
	case "hidden", "collapse":
		return false
	}
	if op := rn.Style("opacity"); op != "" {
		if f, err := strconv.ParseFloat(op, 64); err == nil && f <= 0 {
			return false
		}
	}
	return true
}

func overflowScrolls(v string) bool {
	switch v {
	case "auto", "scroll", "overlay":
		return true
	}
	return false
}

// scrollable requires content larger than the client box and an overflow
// style that lets the user scroll it. The document scrollers always can.
func scrollable(rn *dom.RawNode) bool {
	s := rn.Scroll
	overX := s.ScrollWidth > s.ClientWidth+1
	overY := s.ScrollHeight > s.ClientHeight+1
	if !overX && !overY {
		return false
	}
	if rn.Tag == "html" || rn.Tag == "body" {
		return true
	}
	ox, oy := rn.Style("overflow-x"), rn.Style("overflow-y")
	if ox == "" && oy == "" {
		ox, oy = rn.Style("overflow"), rn.Style("overflow")
	}
	return overY && overflowScrolls(oy) || overX && overflowScrolls(ox)
}
