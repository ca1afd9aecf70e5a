package domain

import (
	"fmt"
	"strings"
)

// Drawing opcodes understood by the interpreter.
const (
	OpDrawLine     = "draw_line"
	OpDrawCircle   = "draw_circle"
	OpDrawTriangle = "draw_triangle"
	OpDrawPolygon  = "draw_polygon"
	OpDrawCurve    = "draw_curve"
	OpDrawSinus    = "draw_sinus"
	OpDrawText     = "draw_text"
	OpSetColor     = "set_color"
	OpClearAll     = "clear_all"
)

// DefaultColor is the stroke color of a fresh interpreter.
const DefaultColor = "black"

// DrawInstruction is one {opcode: payload} entry of a drawing batch.
type DrawInstruction struct {
	Op      string `json:"op"`
	Payload any    `json:"payload,omitempty"`
}

// Point is a surface coordinate. Origin is top-left, y grows downward.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// SkippedInstruction records an instruction the interpreter refused.
type SkippedInstruction struct {
	Index  int    `json:"index"`
	Op     string `json:"op"`
	Reason string `json:"reason"`
}

// DrawReport summarizes one executed batch.
type DrawReport struct {
	Executed int                  `json:"executed"`
	Skipped  []SkippedInstruction `json:"skipped,omitempty"`
	Color    string               `json:"color"`
	Output   string               `json:"output,omitempty"`
}

func (r DrawReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "executed %d drawing instruction(s)", r.Executed)
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, ", skipped %d:", len(r.Skipped))
		for _, s := range r.Skipped {
			fmt.Fprintf(&b, " [%d %s: %s]", s.Index, s.Op, s.Reason)
		}
	}
	if r.Output != "" {
		fmt.Fprintf(&b, "; rendered to %s", r.Output)
	}
	return b.String()
}
