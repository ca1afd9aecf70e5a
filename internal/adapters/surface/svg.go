package surface

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	svg "github.com/ajstarks/svgo"

	"github.com/manthysbr/qagent/internal/core/domain"
)

const (
	DefaultWidth  = 800
	DefaultHeight = 600

	lineHeight = 16
)

// safeColor guards the style attribute; svgo emits a style holding '=' verbatim.
var safeColor = regexp.MustCompile(`^#?[A-Za-z0-9]+$`)

// SVG records primitives and renders them as an SVG document. Flush rewrites
// the output file with everything drawn since the last clear_all.
type SVG struct {
	*Recorder
	path          string
	width, height int
}

func NewSVG(path string, width, height int) *SVG {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &SVG{Recorder: NewRecorder(), path: path, width: width, height: height}
}

// Render writes the current drawing to w.
func (s *SVG) Render(w io.Writer) {
	canvas := svg.New(w)
	canvas.Start(s.width, s.height)
	canvas.Rect(0, 0, s.width, s.height, "fill:white")
	for _, sh := range s.Shapes() {
		renderShape(canvas, sh)
	}
	canvas.End()
}

// Flush renders to the configured path and returns it.
func (s *SVG) Flush() (string, error) {
	var buf bytes.Buffer
	s.Render(&buf)

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write svg: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return "", fmt.Errorf("write svg: %w", err)
	}
	return s.path, nil
}

func renderShape(canvas *svg.SVG, sh Shape) {
	color := sh.Color
	if !safeColor.MatchString(color) {
		color = domain.DefaultColor
	}
	stroke := fmt.Sprintf("fill:none;stroke:%s;stroke-width:2", color)
	switch sh.Kind {
	case ShapeLine:
		xs, ys := split(sh.Points)
		canvas.Polyline(xs, ys, stroke)
	case ShapeOval:
		c := sh.Points[0]
		canvas.Ellipse(c.X, c.Y, sh.RX, sh.RY, stroke)
	case ShapePolygon:
		xs, ys := split(sh.Points)
		canvas.Polygon(xs, ys, stroke)
	case ShapeText:
		renderText(canvas, sh.Points[0], sh.Text, color)
	}
}

// renderText centers the text block on at, one <text> element per line.
func renderText(canvas *svg.SVG, at domain.Point, text, color string) {
	style := fmt.Sprintf("fill:%s;font-family:sans-serif;font-size:14px;text-anchor:middle;dominant-baseline:middle", color)
	lines := strings.Split(text, "\n")
	top := at.Y - (len(lines)-1)*lineHeight/2
	for i, line := range lines {
		canvas.Text(at.X, top+i*lineHeight, line, style)
	}
}

func split(points []domain.Point) ([]int, []int) {
	xs := make([]int, len(points))
	ys := make([]int, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}
	return xs, ys
}
