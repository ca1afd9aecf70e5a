package domain

// ExtractedObject is one JSON object recovered from free-form model output.
type ExtractedObject = map[string]any

// ActionKind discriminates the Action union.
type ActionKind int

const (
	// ActionNone means the response carried neither a final answer nor a usable tool call.
	ActionNone ActionKind = iota
	ActionFinalAnswer
	ActionToolCall
)

func (k ActionKind) String() string {
	switch k {
	case ActionFinalAnswer:
		return "final_answer"
	case ActionToolCall:
		return "tool_call"
	default:
		return "none"
	}
}

// ToolCall names a tool and carries its raw decoded arguments.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Action is the interpretation of one model response.
// Exactly one of FinalAnswer or Call is meaningful, selected by Kind.
type Action struct {
	Kind        ActionKind `json:"kind"`
	FinalAnswer string     `json:"final_answer,omitempty"`
	Call        *ToolCall  `json:"call,omitempty"`
	Thought     string     `json:"thought,omitempty"`

	// Malformed is set when the response had an action marker that yielded nothing.
	Malformed bool `json:"malformed,omitempty"`
	// Canonical is false when arguments were taken from top-level keys.
	Canonical bool `json:"canonical,omitempty"`
}

func FinalAnswerAction(text string) Action {
	return Action{Kind: ActionFinalAnswer, FinalAnswer: text}
}

func ToolCallAction(name string, args map[string]any) Action {
	if args == nil {
		args = map[string]any{}
	}
	return Action{Kind: ActionToolCall, Call: &ToolCall{Name: name, Arguments: args}, Canonical: true}
}

func NoAction() Action {
	return Action{Kind: ActionNone}
}

// Observation is the textual result of a tool call, fed back into the next prompt.
type Observation string

func (o Observation) String() string { return string(o) }
