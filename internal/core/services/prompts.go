package services

import (
	"fmt"
	"strings"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// PromptTemplate frames the question, the tool list and the running
// observation into one prompt per turn.
type PromptTemplate struct {
	Goal         string
	Rules        []string
	Example      string
	HistoryLabel string
}

const searchExample = `{
    'action': 'search',
    'action_input': {
        'query': 'Nobel Prize in Literature 2023',
        'k': 3
    }
}`

const drawExample = `{
    'action': 'draw',
    'action_input': {
        'instructions': [
            {'draw_line': [10,10,100,100]},
            {'draw_line': [10,100,100,10]},
            {'draw_circle': {'center': [150, 75], 'radius': 25}}
        ]
    }
}`

// QuestionPrompt is the template for question answering with tools.
func QuestionPrompt() PromptTemplate {
	return PromptTemplate{
		Goal: "Answer the question. Call a tool when you do not know the answer.",
		Rules: []string{
			"First reflect with 'Thought: <your thoughts>'.",
			"If you don't know the answer: call a tool by writing a line containing 'Action:' followed by the JSON shown in the example.",
			"If you know the answer: print your final answer starting with the prefix 'Final Answer:'.",
			"Use the exact tool name from the list above and put its arguments inside 'action_input'.",
		},
		Example:      searchExample,
		HistoryLabel: "Previous questions and answers:",
	}
}

// DrawPrompt is the template for the drawing assistant.
func DrawPrompt() PromptTemplate {
	return PromptTemplate{
		Goal: "Your goal is to make drawings based on the user input.",
		Rules: []string{
			"The drawing tool operates in a reversed cartesian coordinate system: the X-axis points right, the Y-axis points down and the origin is at (0,0).",
			"The X- and Y-coordinates can only be positive integers.",
			"The drawing operations are expressed in JSON format, inside 'action_input'.",
			"Indicate the beginning of the JSON data by a line containing: Action:",
			"Do not add any JSON data which are not shown in the example and do not add any JSON comments.",
			"When the drawing is done, reply with 'Final Answer:' and a one-line description of what you drew.",
		},
		Example:      drawExample,
		HistoryLabel: "Here follows the chat history:",
	}
}

// Build renders the prompt for the next turn of state.
func (p PromptTemplate) Build(tools *domain.ToolRegistry, state *domain.ConversationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here is the user input: %s\n\n", state.Question)
	b.WriteString(p.Goal)
	b.WriteString("\n\nYou have access to these tools:\n")
	b.WriteString(tools.FormatToolsForPrompt())

	b.WriteString("\nHere follows your instructions:\n")
	for i, rule := range p.Rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}

	if p.Example != "" {
		b.WriteString("\nHere is an example of the JSON formatting for calling a tool:\n\n")
		b.WriteString(ActionMarker)
		b.WriteString("\n")
		b.WriteString(p.Example)
		b.WriteString("\n")
	}

	if len(state.History) > 0 {
		fmt.Fprintf(&b, "\n%s\n", p.HistoryLabel)
		for _, ex := range state.History {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", ex.Question, ex.Answer)
		}
	}

	if state.LastObservation != "" {
		fmt.Fprintf(&b, "\nObservation: %s\n", state.LastObservation)
	}
	return b.String()
}
