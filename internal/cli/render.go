package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/services"
)

var (
	answerLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("70"))
	stepLabel   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("66"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	sourceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Underline(true)
)

// renderer prints answers as markdown wrapped to the configured width.
type renderer struct {
	out   io.Writer
	width int
	plain bool
	md    *glamour.TermRenderer
}

func newRenderer(out io.Writer, width int, plain bool) *renderer {
	if width <= 0 {
		width = 62
	}
	r := &renderer{out: out, width: width, plain: plain}
	if !plain {
		md, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
		if err == nil {
			r.md = md
		}
	}
	return r
}

// Answer prints an answer body.
func (r *renderer) Answer(text string) {
	text = strings.TrimSpace(text)
	if r.plain {
		fmt.Fprintln(r.out, text)
		return
	}
	if r.md == nil {
		fmt.Fprintln(r.out, lipgloss.NewStyle().Width(r.width).Render(text))
		return
	}
	rendered, err := r.md.Render(text)
	if err != nil {
		fmt.Fprintln(r.out, text)
		return
	}
	fmt.Fprint(r.out, rendered)
}

// Label prints a bold heading such as "Answer:".
func (r *renderer) Label(text string) {
	fmt.Fprintln(r.out, r.style(answerLabel, text))
}

// Sources lists the distinct sources of the chunks an answer was grounded on.
func (r *renderer) Sources(chunks []domain.RetrievedChunk) {
	seen := make(map[string]bool)
	var sources []string
	for _, c := range chunks {
		if c.Source != "" && !seen[c.Source] {
			seen[c.Source] = true
			sources = append(sources, c.Source)
		}
	}
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(r.out, stepLabel.Render("Sources:"))
	for _, s := range sources {
		fmt.Fprintf(r.out, "  %s\n", r.style(sourceStyle, s))
	}
}

// Error prints a run failure.
func (r *renderer) Error(err error) {
	fmt.Fprintln(r.out, r.style(errorStyle, "Error: "+err.Error()))
}

// Timing prints the wall time of a run and, when available, its spans.
func (r *renderer) Timing(elapsed time.Duration, trace *domain.Trace) {
	fmt.Fprintln(r.out, r.style(dimStyle, fmt.Sprintf("took %s", elapsed.Round(time.Millisecond))))
	if trace == nil {
		return
	}
	spans := append([]domain.Span(nil), trace.Spans...)
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].StartTime.Before(spans[j].StartTime) })
	for _, s := range spans {
		if s.ID == trace.RootSpanID {
			continue
		}
		fmt.Fprintln(r.out, r.style(dimStyle, fmt.Sprintf("  %-32s %6dms", s.Name, s.DurationMs)))
	}
}

// Step prints one step event for --verbose runs.
func (r *renderer) Step(e services.Event) {
	if e.Type != services.EventTypeStep {
		return
	}
	var step domain.StepEvent
	if err := json.Unmarshal([]byte(e.Data), &step); err != nil {
		return
	}
	switch step.Kind {
	case domain.StepPrompt:
		// prompts are large; the log has them at debug level
		return
	case domain.StepToolCall:
		fmt.Fprintf(r.out, "%s %s\n", r.style(stepLabel, fmt.Sprintf("[turn %d] tool:", step.Turn)), step.Tool)
	default:
		fmt.Fprintf(r.out, "%s %s\n", r.style(stepLabel, fmt.Sprintf("[turn %d] %s:", step.Turn, step.Kind)), r.style(dimStyle, step.Text))
	}
}

func (r *renderer) style(s lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return s.Render(text)
}
