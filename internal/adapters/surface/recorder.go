package surface

import (
	"fmt"
	"strings"
	"sync"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// ShapeKind names a recorded primitive.
type ShapeKind string

const (
	ShapeLine    ShapeKind = "line"
	ShapeOval    ShapeKind = "oval"
	ShapePolygon ShapeKind = "polygon"
	ShapeText    ShapeKind = "text"
)

// Shape is one primitive stroked onto a surface.
type Shape struct {
	Kind   ShapeKind      `json:"kind"`
	Points []domain.Point `json:"points"`
	RX     int            `json:"rx,omitempty"`
	RY     int            `json:"ry,omitempty"`
	Text   string         `json:"text,omitempty"`
	Color  string         `json:"color"`
}

func (s Shape) String() string {
	pts := make([]string, len(s.Points))
	for i, p := range s.Points {
		pts[i] = p.String()
	}
	switch s.Kind {
	case ShapeOval:
		return fmt.Sprintf("%s %s rx=%d ry=%d %s", s.Kind, strings.Join(pts, " "), s.RX, s.RY, s.Color)
	case ShapeText:
		return fmt.Sprintf("%s %s %q %s", s.Kind, strings.Join(pts, " "), s.Text, s.Color)
	default:
		return fmt.Sprintf("%s %s %s", s.Kind, strings.Join(pts, " "), s.Color)
	}
}

// Recorder is a Surface that keeps the primitive list in memory. It backs the
// SVG surface and dry runs.
type Recorder struct {
	mu     sync.Mutex
	shapes []Shape
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(s Shape) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shapes = append(r.shapes, s)
	return nil
}

func (r *Recorder) StrokeLine(points []domain.Point, color string) error {
	if len(points) < 2 {
		return fmt.Errorf("line needs at least 2 points, got %d", len(points))
	}
	return r.add(Shape{Kind: ShapeLine, Points: clonePoints(points), Color: color})
}

func (r *Recorder) StrokeOval(center domain.Point, rx, ry int, color string) error {
	if rx < 0 || ry < 0 {
		return fmt.Errorf("negative radius %dx%d", rx, ry)
	}
	return r.add(Shape{Kind: ShapeOval, Points: []domain.Point{center}, RX: rx, RY: ry, Color: color})
}

func (r *Recorder) StrokePolygon(points []domain.Point, color string) error {
	if len(points) < 3 {
		return fmt.Errorf("polygon needs at least 3 points, got %d", len(points))
	}
	return r.add(Shape{Kind: ShapePolygon, Points: clonePoints(points), Color: color})
}

func (r *Recorder) DrawText(at domain.Point, text string, color string) error {
	return r.add(Shape{Kind: ShapeText, Points: []domain.Point{at}, Text: text, Color: color})
}

func (r *Recorder) ClearAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shapes = nil
	return nil
}

// Shapes returns a copy of the recorded primitives in stroke order.
func (r *Recorder) Shapes() []Shape {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Shape, len(r.shapes))
	copy(out, r.shapes)
	return out
}

func clonePoints(points []domain.Point) []domain.Point {
	out := make([]domain.Point, len(points))
	copy(out, points)
	return out
}
