package dom

// Rect is an axis-aligned rectangle in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns width*height, 0 for degenerate rectangles.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Area() == 0 }

// Intersect returns the overlap of r and o (zero Rect if disjoint).
func (r Rect) Intersect(o Rect) Rect {
	x1 := max(r.X, o.X)
	y1 := max(r.Y, o.Y)
	x2 := min(r.X+r.Width, o.X+o.Width)
	y2 := min(r.Y+r.Height, o.Y+o.Height)
	if x2 <= x1 || y2 <= y1 {
		return Rect{}
	}
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// ContainedRatio returns the fraction of r's area that lies inside outer.
func (r Rect) ContainedRatio(outer Rect) float64 {
	a := r.Area()
	if a == 0 {
		return 0
	}
	return r.Intersect(outer).Area() / a
}

// Center returns the centroid of the rectangle.
func (r Rect) Center() (x, y float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Offset returns r translated by (dx, dy).
func (r Rect) Offset(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// ScrollInfo carries the scroll geometry of a scroll container.
type ScrollInfo struct {
	ScrollTop    float64 `json:"scroll_top"`
	ScrollLeft   float64 `json:"scroll_left"`
	ScrollHeight float64 `json:"scroll_height"`
	ScrollWidth  float64 `json:"scroll_width"`
	ClientHeight float64 `json:"client_height"`
	ClientWidth  float64 `json:"client_width"`
}

// PagesAbove is the scrolled-past content measured in client heights.
func (s ScrollInfo) PagesAbove() float64 {
	if s.ClientHeight <= 0 {
		return 0
	}
	return s.ScrollTop / s.ClientHeight
}

// PagesBelow is the remaining content below the visible area in client heights.
func (s ScrollInfo) PagesBelow() float64 {
	if s.ClientHeight <= 0 {
		return 0
	}
	rest := s.ScrollHeight - s.ClientHeight - s.ScrollTop
	if rest < 0 {
		rest = 0
	}
	return rest / s.ClientHeight
}
