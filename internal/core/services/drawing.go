package services

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/ports"
)

var (
	errUnknownOpcode    = errors.New("unknown opcode")
	errNegativeCoord    = errors.New("negative coordinate")
	errMalformedPayload = errors.New("malformed payload")
	errTooFewPoints     = errors.New("too few points")
)

// flusher is implemented by surfaces that render to an artifact after a batch.
type flusher interface {
	Flush() (string, error)
}

// DrawingInterpreter executes drawing instructions against a Surface.
// It owns the current stroke color; the surface owns the drawn primitives.
type DrawingInterpreter struct {
	mu      sync.Mutex
	logger  *slog.Logger
	surface ports.Surface
	color   string
}

func NewDrawingInterpreter(logger *slog.Logger, surface ports.Surface) *DrawingInterpreter {
	return &DrawingInterpreter{
		logger:  logger,
		surface: surface,
		color:   domain.DefaultColor,
	}
}

// Color returns the current stroke color.
func (d *DrawingInterpreter) Color() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.color
}

// Execute runs instructions in order. An instruction that cannot be run is
// logged, recorded in the report and skipped; the rest of the batch continues.
func (d *DrawingInterpreter) Execute(instrs []domain.DrawInstruction) domain.DrawReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	var report domain.DrawReport
	for i, in := range instrs {
		if err := d.execute(in); err != nil {
			d.logger.Warn("skipping drawing instruction", "index", i, "op", in.Op, "error", err)
			report.Skipped = append(report.Skipped, domain.SkippedInstruction{Index: i, Op: in.Op, Reason: err.Error()})
			continue
		}
		report.Executed++
	}
	report.Color = d.color

	if f, ok := d.surface.(flusher); ok {
		out, err := f.Flush()
		if err != nil {
			d.logger.Warn("failed to render drawing", "error", err)
		} else {
			report.Output = out
		}
	}
	return report
}

func (d *DrawingInterpreter) execute(in domain.DrawInstruction) error {
	switch strings.ToLower(strings.TrimSpace(in.Op)) {
	case domain.OpDrawLine:
		pts, err := parsePoints(in.Payload, 2)
		if err != nil {
			return err
		}
		return d.surface.StrokeLine(pts, d.color)

	case domain.OpDrawCurve:
		pts, err := parsePoints(in.Payload, 2)
		if err != nil {
			return err
		}
		return d.surface.StrokeLine(pts, d.color)

	case domain.OpDrawTriangle:
		pts, err := parsePoints(in.Payload, 3)
		if err != nil {
			return err
		}
		if len(pts) != 3 {
			return fmt.Errorf("%w: triangle needs 3 points, got %d", errMalformedPayload, len(pts))
		}
		return d.surface.StrokePolygon(pts, d.color)

	case domain.OpDrawPolygon:
		pts, err := parsePoints(in.Payload, 3)
		if err != nil {
			return err
		}
		return d.surface.StrokePolygon(pts, d.color)

	case domain.OpDrawCircle:
		center, r, err := parseCircle(in.Payload)
		if err != nil {
			return err
		}
		return d.surface.StrokeOval(center, r, r, d.color)

	case domain.OpDrawSinus:
		spec, err := parseSinus(in.Payload)
		if err != nil {
			return err
		}
		pts, err := SinusPoints(spec)
		if err != nil {
			return err
		}
		return d.surface.StrokeLine(pts, d.color)

	case domain.OpDrawText:
		at, text, err := parseText(in.Payload)
		if err != nil {
			return err
		}
		return d.surface.DrawText(at, text, d.color)

	case domain.OpSetColor:
		color, err := parseColor(in.Payload)
		if err != nil {
			return err
		}
		d.color = color
		return nil

	case domain.OpClearAll:
		return d.surface.ClearAll()

	default:
		return fmt.Errorf("%w: %q", errUnknownOpcode, in.Op)
	}
}

// SinusSpec describes a sampled sine wave anchored at Origin.
type SinusSpec struct {
	Origin   domain.Point
	StartDeg float64
	StopDeg  float64
	StepDeg  float64
	YScale   float64
}

// maxSinusSamples bounds how many points one draw_sinus may produce.
const maxSinusSamples = 10000

// SinusPoints samples the wave for angle in [StartDeg, StopDeg) by StepDeg.
// Each point is (x+angle, y-YScale*sin(angle)): positive sine values go up the
// screen, since surface y grows downward.
func SinusPoints(s SinusSpec) ([]domain.Point, error) {
	for _, f := range []float64{s.StartDeg, s.StopDeg, s.StepDeg, s.YScale} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: range values must be finite", errMalformedPayload)
		}
	}
	if s.StepDeg <= 0 {
		return nil, fmt.Errorf("%w: step must be positive", errMalformedPayload)
	}
	if s.StopDeg <= s.StartDeg {
		return nil, fmt.Errorf("%w: stop must exceed start", errMalformedPayload)
	}
	samples := math.Ceil((s.StopDeg - s.StartDeg) / s.StepDeg)
	if samples > maxSinusSamples {
		return nil, fmt.Errorf("%w: %g samples exceeds the limit of %d", errMalformedPayload, samples, maxSinusSamples)
	}
	n := int(samples)
	pts := make([]domain.Point, 0, n)
	for i := 0; i < n; i++ {
		angle := s.StartDeg + float64(i)*s.StepDeg
		x := float64(s.Origin.X) + angle
		y := float64(s.Origin.Y) - s.YScale*math.Sin(angle*math.Pi/180)
		p, err := pointFrom(x, y)
		if err != nil {
			return nil, fmt.Errorf("angle %g: %w", angle, err)
		}
		pts = append(pts, p)
	}
	if len(pts) < 2 {
		return nil, fmt.Errorf("%w: sine wave needs at least 2 samples", errTooFewPoints)
	}
	return pts, nil
}

// ── payload decoding ────────────────────────────────────────────────

// coord rounds a JSON number to the nearest integer and rejects negatives.
func coord(v any) (int, error) {
	f, ok := number(v)
	if !ok {
		return 0, fmt.Errorf("%w: %v is not a number", errMalformedPayload, v)
	}
	r := int(math.Round(f))
	if r < 0 {
		return 0, fmt.Errorf("%w: %v", errNegativeCoord, v)
	}
	return r, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func pointFrom(x, y any) (domain.Point, error) {
	px, err := coord(x)
	if err != nil {
		return domain.Point{}, err
	}
	py, err := coord(y)
	if err != nil {
		return domain.Point{}, err
	}
	return domain.Point{X: px, Y: py}, nil
}

// parsePoint accepts [x, y] or {"x": x, "y": y}.
func parsePoint(v any) (domain.Point, error) {
	switch p := v.(type) {
	case []any:
		if len(p) != 2 {
			return domain.Point{}, fmt.Errorf("%w: point needs 2 values, got %d", errMalformedPayload, len(p))
		}
		return pointFrom(p[0], p[1])
	case map[string]any:
		return pointFrom(p["x"], p["y"])
	default:
		return domain.Point{}, fmt.Errorf("%w: %v is not a point", errMalformedPayload, v)
	}
}

// parsePoints accepts a flat [x1,y1,x2,y2,...] list, a list of points, or an
// object holding "points" (or "start"/"end").
func parsePoints(v any, minPoints int) ([]domain.Point, error) {
	var pts []domain.Point
	switch p := v.(type) {
	case map[string]any:
		if inner, ok := p["points"]; ok {
			return parsePoints(inner, minPoints)
		}
		start, okStart := p["start"]
		end, okEnd := p["end"]
		if !okStart || !okEnd {
			return nil, fmt.Errorf("%w: expected points", errMalformedPayload)
		}
		for _, raw := range []any{start, end} {
			pt, err := parsePoint(raw)
			if err != nil {
				return nil, err
			}
			pts = append(pts, pt)
		}
	case []any:
		flat := len(p) > 0
		for _, item := range p {
			if _, ok := number(item); !ok {
				flat = false
				break
			}
		}
		if flat {
			if len(p)%2 != 0 {
				return nil, fmt.Errorf("%w: odd number of coordinates", errMalformedPayload)
			}
			for i := 0; i < len(p); i += 2 {
				pt, err := pointFrom(p[i], p[i+1])
				if err != nil {
					return nil, err
				}
				pts = append(pts, pt)
			}
			break
		}
		for _, item := range p {
			pt, err := parsePoint(item)
			if err != nil {
				return nil, err
			}
			pts = append(pts, pt)
		}
	default:
		return nil, fmt.Errorf("%w: expected points, got %T", errMalformedPayload, v)
	}
	if len(pts) < minPoints {
		return nil, fmt.Errorf("%w: need %d, got %d", errTooFewPoints, minPoints, len(pts))
	}
	return pts, nil
}

// parseCircle accepts {"center": [x, y], "radius": r} or [x, y, r].
func parseCircle(v any) (domain.Point, int, error) {
	switch p := v.(type) {
	case map[string]any:
		center, err := parsePoint(p["center"])
		if err != nil {
			return domain.Point{}, 0, err
		}
		r, err := coord(p["radius"])
		if err != nil {
			return domain.Point{}, 0, fmt.Errorf("radius: %w", err)
		}
		return center, r, nil
	case []any:
		if len(p) != 3 {
			return domain.Point{}, 0, fmt.Errorf("%w: circle needs [x, y, r]", errMalformedPayload)
		}
		center, err := pointFrom(p[0], p[1])
		if err != nil {
			return domain.Point{}, 0, err
		}
		r, err := coord(p[2])
		if err != nil {
			return domain.Point{}, 0, fmt.Errorf("radius: %w", err)
		}
		return center, r, nil
	default:
		return domain.Point{}, 0, fmt.Errorf("%w: expected circle, got %T", errMalformedPayload, v)
	}
}

// parseSinus accepts {"start": [x, y], "range": [start, stop, step, scale]}
// or the flat form [x, y, start, stop, step, scale].
func parseSinus(v any) (SinusSpec, error) {
	var origin, rng any
	switch p := v.(type) {
	case map[string]any:
		origin, rng = p["start"], p["range"]
	case []any:
		if len(p) != 6 {
			return SinusSpec{}, fmt.Errorf("%w: sinus needs [x, y, start, stop, step, scale]", errMalformedPayload)
		}
		origin, rng = []any{p[0], p[1]}, p[2:]
	default:
		return SinusSpec{}, fmt.Errorf("%w: expected sinus, got %T", errMalformedPayload, v)
	}

	pt, err := parsePoint(origin)
	if err != nil {
		return SinusSpec{}, fmt.Errorf("start: %w", err)
	}
	vals, ok := rng.([]any)
	if !ok || len(vals) != 4 {
		return SinusSpec{}, fmt.Errorf("%w: range needs [start, stop, step, scale]", errMalformedPayload)
	}
	nums := make([]float64, 4)
	for i, raw := range vals {
		if nums[i], ok = number(raw); !ok {
			return SinusSpec{}, fmt.Errorf("%w: range value %v is not a number", errMalformedPayload, raw)
		}
	}
	return SinusSpec{Origin: pt, StartDeg: nums[0], StopDeg: nums[1], StepDeg: nums[2], YScale: nums[3]}, nil
}

// parseText accepts {"position": [x, y], "text": "..."}, {"x", "y", "text"} or [x, y, "text"].
func parseText(v any) (domain.Point, string, error) {
	var (
		at   domain.Point
		text string
		err  error
	)
	switch p := v.(type) {
	case map[string]any:
		if pos, ok := p["position"]; ok {
			at, err = parsePoint(pos)
		} else {
			at, err = pointFrom(p["x"], p["y"])
		}
		text, _ = p["text"].(string)
	case []any:
		if len(p) != 3 {
			return at, "", fmt.Errorf("%w: text needs [x, y, text]", errMalformedPayload)
		}
		at, err = pointFrom(p[0], p[1])
		text, _ = p[2].(string)
	default:
		return at, "", fmt.Errorf("%w: expected text, got %T", errMalformedPayload, v)
	}
	if err != nil {
		return at, "", err
	}
	if text == "" {
		return at, "", fmt.Errorf("%w: empty text", errMalformedPayload)
	}
	return at, text, nil
}

// colorName matches named colors and hex values such as "red" or "#ff0000".
var colorName = regexp.MustCompile(`^#?[A-Za-z0-9]+$`)

// parseColor accepts "red" or {"color": "red"}.
func parseColor(v any) (string, error) {
	var color string
	switch p := v.(type) {
	case string:
		color = p
	case map[string]any:
		color, _ = p["color"].(string)
	}
	color = strings.TrimSpace(color)
	if color == "" {
		return "", fmt.Errorf("%w: expected color name", errMalformedPayload)
	}
	if !colorName.MatchString(color) {
		return "", fmt.Errorf("%w: invalid color %q", errMalformedPayload, color)
	}
	return color, nil
}
