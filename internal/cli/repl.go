package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/manthysbr/qagent/internal/adapters/surface"
	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/ports"
	"github.com/manthysbr/qagent/internal/core/services"
)

func (a *app) chatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Ask several questions in one conversation",
		Long: `Start an interactive conversation. Earlier questions and answers are part of
every prompt, and the model's context is carried between questions.
Type "reset" to forget the conversation and "exit" to quit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			loop, err := rt.questionLoop()
			if err != nil {
				return err
			}
			session := services.NewSession(loop, a.cfg.Agent.HistorySize, true)
			return a.repl(cmd.Context(), rt, session, nil, nil)
		},
	}
}

func (a *app) drawCommand() *cobra.Command {
	var (
		output string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "draw [description]",
		Short: "Describe a drawing and let the model render it",
		Long: `Start the drawing assistant. Each description is turned into drawing
instructions that are rendered to an SVG file, which is rewritten after every
batch. With a description argument a single drawing is made.

Example:
  qagent draw -o house.svg "a house with a red roof"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = a.cfg.Draw.Output
			}

			var (
				surf     ports.Surface
				recorder *surface.Recorder
			)
			if dryRun {
				recorder = surface.NewRecorder()
				surf = recorder
			} else {
				surf = surface.NewSVG(output, a.cfg.Draw.Width, a.cfg.Draw.Height)
			}

			rt, err := a.newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			loop, err := rt.drawLoop(surf)
			if err != nil {
				return err
			}
			session := services.NewSession(loop, a.cfg.Agent.HistorySize, false)

			showShapes := func() {
				if recorder == nil {
					return
				}
				for _, s := range recorder.Shapes() {
					fmt.Fprintln(a.stdout, "  "+s.String())
				}
			}
			if len(args) > 0 {
				err := a.askOnce(cmd.Context(), rt, session, strings.Join(args, " "), showDrawTurns)
				showShapes()
				return err
			}
			return a.repl(cmd.Context(), rt, session, showDrawTurns, showShapes)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "SVG file to render into (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the primitives instead of writing a file")
	return cmd
}

// showDrawTurns prints what each draw call did.
func showDrawTurns(out *renderer, res *domain.RunResult) {
	for _, t := range res.Turns {
		if t.Action.Kind == domain.ActionToolCall && t.Observation != "" {
			fmt.Fprintln(out.out, out.style(dimStyle, string(t.Observation)))
		}
	}
}

type turnPrinter func(out *renderer, res *domain.RunResult)

func (a *app) askOnce(ctx context.Context, rt *runtime, session *services.Session, question string, turns turnPrinter) error {
	out := a.renderer()
	stop := rt.watchSteps(newRenderer(a.stderr, a.cfg.UI.Width, a.plain))
	started := time.Now()
	res, err := session.Ask(ctx, question)
	stop()

	if res != nil && turns != nil {
		turns(out, res)
	}
	if err != nil {
		return err
	}
	out.Answer(res.Answer)
	rt.timing(out, time.Since(started), res.TraceID)
	return nil
}

// repl reads one question per line until EOF, "exit" or "quit". Run errors
// are printed and the conversation goes on; only cancellation ends it.
func (a *app) repl(ctx context.Context, rt *runtime, session *services.Session, turns turnPrinter, after func()) error {
	out := a.renderer()
	scanner := bufio.NewScanner(a.stdin)
	for {
		fmt.Fprint(a.stdout, out.style(stepLabel, "> "))
		if !scanner.Scan() {
			fmt.Fprintln(a.stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "reset":
			session.Reset()
			fmt.Fprintln(a.stdout, out.style(dimStyle, "conversation cleared"))
			continue
		}

		err := a.askOnce(ctx, rt, session, line, turns)
		if after != nil {
			after()
		}
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		out.Error(err)
	}
}
