package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// NewConvertTimeTool converts an hours:minutes:seconds duration into seconds.
func NewConvertTimeTool() *domain.Tool {
	return &domain.Tool{
		Name:        "convert_time",
		Description: "converts a time given in hours:minutes:seconds into seconds",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]any{
				"time": map[string]any{
					"type":        "string",
					"description": "A duration like '1:30:00'.",
				},
			},
			Required: []string{"time"},
		},
		Decode: func(raw map[string]any) (domain.ToolArgs, error) {
			t, _ := raw["time"].(string)
			if strings.TrimSpace(t) == "" {
				return nil, fmt.Errorf("time must be a non-empty string")
			}
			return domain.ConvertTimeArgs{Time: strings.TrimSpace(t)}, nil
		},
		Execute: func(_ context.Context, args domain.ToolArgs) (any, error) {
			a, ok := args.(domain.ConvertTimeArgs)
			if !ok {
				return nil, fmt.Errorf("unexpected arguments %T", args)
			}
			secs, err := ParseClockDuration(a.Time)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("%s is %d seconds", a.Time, secs), nil
		},
	}
}

// ParseClockDuration parses "h:m:s", "m:s" or "s" into whole seconds.
func ParseClockDuration(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q: too many fields", s)
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time %q: field %q is not a non-negative integer", s, p)
		}
		if total > (math.MaxInt-n)/60 {
			return 0, fmt.Errorf("invalid time %q: duration is too large", s)
		}
		total = total*60 + n
	}
	return total, nil
}
