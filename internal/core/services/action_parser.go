package services

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/manthysbr/qagent/internal/core/domain"
)

const (
	FinalAnswerMarker = "Final Answer:"
	ActionMarker      = "Action:"

	actionNameField  = "action"
	actionInputField = "action_input"
)

var thoughtRe = regexp.MustCompile(`(?i)Thought:\s*([^\n]+)`)

// ActionParser interprets one raw model response as an Action.
type ActionParser struct {
	logger *slog.Logger
	repair bool
}

// NewActionParser creates a parser. With repair set, an action block that
// yields no object is passed through jsonrepair once before giving up.
func NewActionParser(logger *slog.Logger, repair bool) *ActionParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionParser{logger: logger, repair: repair}
}

// Parse never fails: anything unusable becomes NoAction.
func (p *ActionParser) Parse(raw string) domain.Action {
	thought := extractThought(raw)

	if _, answer, ok := strings.Cut(raw, FinalAnswerMarker); ok {
		action := domain.FinalAnswerAction(strings.TrimSpace(answer))
		action.Thought = thought
		return action
	}

	if !strings.Contains(raw, ActionMarker) {
		action := domain.NoAction()
		action.Thought = thought
		return action
	}

	normalized := NormalizeQuotes(raw)
	obj, ok := lastActionObject(ExtractObjects(normalized))
	if !ok && p.repair {
		obj, ok = p.repairActionBlock(normalized)
	}
	if !ok {
		p.logger.Warn("action marker present but no action object decoded", "response", truncate(raw, 200))
		action := domain.NoAction()
		action.Thought = thought
		action.Malformed = true
		return action
	}

	action, ok := p.toAction(obj)
	if !ok {
		action = domain.NoAction()
		action.Malformed = true
	}
	action.Thought = thought
	return action
}

// lastActionObject picks the last object that names an action. Models often
// echo the prompt's example envelope before their real one.
func lastActionObject(objs []domain.ExtractedObject) (domain.ExtractedObject, bool) {
	for i := len(objs) - 1; i >= 0; i-- {
		if name, ok := objs[i][actionNameField].(string); ok && strings.TrimSpace(name) != "" {
			return objs[i], true
		}
	}
	return nil, false
}

func (p *ActionParser) repairActionBlock(normalized string) (domain.ExtractedObject, bool) {
	idx := strings.LastIndex(normalized, ActionMarker)
	block := strings.TrimSpace(normalized[idx+len(ActionMarker):])
	start := strings.IndexByte(block, '{')
	if start < 0 {
		return nil, false
	}
	fixed, err := jsonrepair.JSONRepair(block[start:])
	if err != nil {
		p.logger.Debug("json repair failed", "error", err)
		return nil, false
	}
	obj, ok := lastActionObject(ExtractObjects(fixed))
	if ok {
		p.logger.Warn("action block recovered by json repair")
	}
	return obj, ok
}

func (p *ActionParser) toAction(obj domain.ExtractedObject) (domain.Action, bool) {
	name := strings.TrimSpace(obj[actionNameField].(string))

	input, present := obj[actionInputField]
	if present {
		args, ok := input.(map[string]any)
		if !ok {
			p.logger.Warn("action_input is not an object", "action", name)
			return domain.Action{}, false
		}
		return domain.ToolCallAction(name, args), true
	}

	// Legacy envelope: arguments sit beside the action name.
	args := make(map[string]any, len(obj))
	for k, v := range obj {
		if k != actionNameField {
			args[k] = v
		}
	}
	p.logger.Warn("non-canonical action envelope, using top-level keys as arguments", "action", name)
	action := domain.ToolCallAction(name, args)
	action.Canonical = false
	return action, true
}

func extractThought(raw string) string {
	if m := thoughtRe.FindStringSubmatch(raw); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
