package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Tool represents an executable capability available to the agent
type Tool struct {
	Name        string
	Description string
	Parameters  ToolParameters
	// Decode turns raw decoded arguments into the tool's typed payload.
	// When nil the handler receives RawArgs.
	Decode  ArgsDecoder
	Execute ToolExecutor
}

// ToolParameters defines the schema for tool inputs
type ToolParameters struct {
	Type       string         `json:"type"`       // "object"
	Properties map[string]any `json:"properties"` // param definitions
	Required   []string       `json:"required"`   // required param names
}

// ArgsDecoder maps an ExtractedObject onto a typed argument variant.
type ArgsDecoder func(raw map[string]any) (ToolArgs, error)

// ToolExecutor is the function signature for tool execution
type ToolExecutor func(ctx context.Context, args ToolArgs) (any, error)

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithFuzzyMatch lets Dispatch correct a hallucinated tool name to the closest
// registered one instead of failing with ErrUnknownTool.
func WithFuzzyMatch(enabled bool) RegistryOption {
	return func(r *ToolRegistry) { r.fuzzy = enabled }
}

// WithRegistryLogger sets the logger used for dispatch diagnostics.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *ToolRegistry) { r.logger = logger }
}

// ToolRegistry manages available tools
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	schemas map[string]*argSchema
	fuzzy   bool
	logger  *slog.Logger
}

// NewToolRegistry creates a new empty registry
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		tools:   make(map[string]*Tool),
		schemas: make(map[string]*argSchema),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool to the registry
func (r *ToolRegistry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Execute == nil {
		return fmt.Errorf("tool %q has no executor", tool.Name)
	}
	schema, err := compileArgSchema(tool.Parameters)
	if err != nil {
		return fmt.Errorf("tool %q schema: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
	r.schemas[tool.Name] = schema
	return nil
}

// Dispatch validates call against the named tool's schema, decodes its typed
// arguments and runs the handler. Every failure still yields a diagnostic
// Observation so the agent loop can feed it back to the model.
func (r *ToolRegistry) Dispatch(ctx context.Context, call ToolCall) (Observation, error) {
	tool, schema, err := r.resolve(call.Name)
	if err != nil {
		return diagnostic(err), err
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}

	if missing := missingRequired(tool.Parameters.Required, args); len(missing) > 0 {
		err := fmt.Errorf("%w: %s: missing required %s", ErrInvalidArguments, tool.Name, strings.Join(missing, ", "))
		return diagnostic(err), err
	}
	if err := schema.validate(args); err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrInvalidArguments, tool.Name, err)
		return diagnostic(err), err
	}

	var typed ToolArgs = RawArgs(args)
	if tool.Decode != nil {
		if typed, err = tool.Decode(args); err != nil {
			err = fmt.Errorf("%w: %s: %v", ErrInvalidArguments, tool.Name, err)
			return diagnostic(err), err
		}
	}

	result, err := tool.Execute(ctx, typed)
	if err != nil {
		if !errors.Is(err, ErrToolFailed) {
			err = fmt.Errorf("%w: %s: %w", ErrToolFailed, tool.Name, err)
		}
		return diagnostic(err), err
	}
	return normalizeResult(result), nil
}

func (r *ToolRegistry) resolve(name string) (*Tool, *argSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if tool, ok := r.tools[name]; ok {
		return tool, r.schemas[name], nil
	}
	if r.fuzzy {
		if match := r.fuzzyMatch(name); match != "" {
			r.logger.Warn("tool name corrected", "requested", name, "resolved", match)
			return r.tools[match], r.schemas[match], nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

func diagnostic(err error) Observation {
	return Observation(fmt.Sprintf("Error: %v", err))
}

func missingRequired(required []string, args map[string]any) []string {
	var missing []string
	for _, name := range required {
		v, ok := args[name]
		if !ok || v == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// normalizeResult converts a tool result into observation text: strings pass
// through unchanged, anything else is rendered as JSON.
func normalizeResult(result any) Observation {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return Observation(v)
	case Observation:
		return v
	case fmt.Stringer:
		return Observation(v.String())
	}
	b, err := json.Marshal(result)
	if err != nil {
		return Observation(fmt.Sprintf("%v", result))
	}
	return Observation(b)
}

// fuzzyMatch finds the best matching tool name for a hallucinated/wrong name.
// It uses word-overlap scoring + Levenshtein distance as tiebreaker.
// Returns empty string if no reasonable match is found.
func (r *ToolRegistry) fuzzyMatch(input string) string {
	inputWords := splitToolWords(input)

	bestName := ""
	bestScore := 0

	for _, name := range r.sortedNames() {
		score := wordOverlapScore(inputWords, splitToolWords(name))
		if score > bestScore {
			bestScore = score
			bestName = name
		} else if score == bestScore && score > 0 {
			if levenshtein(input, name) < levenshtein(input, bestName) {
				bestName = name
			}
		}
	}

	if bestScore >= 1 {
		return bestName
	}
	return ""
}

func splitToolWords(name string) []string {
	parts := []string{}
	for _, p := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	}) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func wordOverlapScore(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, w := range b {
		set[w] = true
	}
	score := 0
	for _, w := range a {
		if set[w] {
			score++
		}
	}
	return score
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

// GetTool returns a tool by name
func (r *ToolRegistry) GetTool(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// ListTools returns all registered tools sorted by name.
func (r *ToolRegistry) ListTools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]*Tool, 0, len(r.tools))
	for _, name := range r.sortedNames() {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// caller holds r.mu
func (r *ToolRegistry) sortedNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FormatToolsForPrompt generates a concise description of available tools for LLM prompt.
func (r *ToolRegistry) FormatToolsForPrompt() string {
	var b strings.Builder
	for _, tool := range r.ListTools() {
		reqParams := ""
		if len(tool.Parameters.Required) > 0 {
			reqParams = " | required: " + strings.Join(tool.Parameters.Required, ", ")
		}

		paramsList := ""
		if len(tool.Parameters.Properties) > 0 {
			names := make([]string, 0, len(tool.Parameters.Properties))
			for pName := range tool.Parameters.Properties {
				names = append(names, pName)
			}
			sort.Strings(names)
			parts := make([]string, 0, len(names))
			for _, pName := range names {
				pType := "any"
				if pm, ok := tool.Parameters.Properties[pName].(map[string]any); ok {
					if t, ok := pm["type"].(string); ok {
						pType = t
					}
				}
				parts = append(parts, pName+":"+pType)
			}
			paramsList = " | params: {" + strings.Join(parts, ", ") + "}"
		}
		fmt.Fprintf(&b, "    - %s: %s%s%s\n", tool.Name, tool.Description, paramsList, reqParams)
	}
	return b.String()
}

// FilterByNames returns a new ToolRegistry containing only the tools whose names match the given list.
// The new registry shares Tool pointers with the receiver.
func (r *ToolRegistry) FilterByNames(names []string) *ToolRegistry {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	filtered := NewToolRegistry(WithFuzzyMatch(r.fuzzy), WithRegistryLogger(r.logger))
	for name, tool := range r.tools {
		if _, ok := allowed[name]; ok {
			filtered.tools[name] = tool
			filtered.schemas[name] = r.schemas[name]
		}
	}
	return filtered
}
