package services

import (
	"context"
	"fmt"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// NewDrawTool exposes a DrawingInterpreter to the agent as the "draw" tool.
func NewDrawTool(interp *DrawingInterpreter) *domain.Tool {
	return &domain.Tool{
		Name: "draw",
		Description: "draws on a canvas whose origin (0,0) is the top-left corner, x to the right and y down; " +
			"coordinates are positive integers. Operations: draw_line [x1,y1,x2,y2,...], " +
			"draw_circle {center:[x,y], radius:r}, draw_triangle/draw_polygon [[x,y],...], draw_curve [[x,y],...], " +
			"draw_sinus {start:[x,y], range:[startDeg,stopDeg,stepDeg,yScale]}, draw_text {position:[x,y], text:s}, " +
			"set_color name, clear_all",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]any{
				"instructions": map[string]any{
					"type":        "array",
					"description": "Ordered list of {opcode: payload} objects.",
				},
			},
			Required: []string{"instructions"},
		},
		Decode: decodeDrawArgs,
		Execute: func(_ context.Context, args domain.ToolArgs) (any, error) {
			a, ok := args.(domain.DrawArgs)
			if !ok {
				return nil, fmt.Errorf("unexpected arguments %T", args)
			}
			return interp.Execute(a.Instructions), nil
		},
	}
}

func decodeDrawArgs(raw map[string]any) (domain.ToolArgs, error) {
	list, ok := raw["instructions"].([]any)
	if !ok {
		return nil, fmt.Errorf("instructions must be a list")
	}
	instrs := make([]domain.DrawInstruction, 0, len(list))
	for _, item := range list {
		instrs = append(instrs, decodeInstruction(item))
	}
	return domain.DrawArgs{Instructions: instrs}, nil
}

// decodeInstruction accepts {opcode: payload}, {"op": opcode, ...payload} or a
// bare opcode string. Anything else decodes with an empty opcode so the
// interpreter skips it like any unknown instruction.
func decodeInstruction(item any) domain.DrawInstruction {
	switch v := item.(type) {
	case string:
		return domain.DrawInstruction{Op: v}
	case map[string]any:
		if op, ok := v["op"].(string); ok {
			payload := make(map[string]any, len(v))
			for k, val := range v {
				if k != "op" {
					payload[k] = val
				}
			}
			return domain.DrawInstruction{Op: op, Payload: payload}
		}
		if len(v) == 1 {
			for op, payload := range v {
				return domain.DrawInstruction{Op: op, Payload: payload}
			}
		}
	}
	return domain.DrawInstruction{Payload: item}
}
