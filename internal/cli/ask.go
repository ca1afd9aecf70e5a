package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/manthysbr/qagent/internal/core/domain"
)

func (a *app) askCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question, calling tools when the model asks for them",
		Long: `Answer a question with the agent loop. The model may search the web or
convert times before giving its final answer. Without arguments the question is
read from stdin.

Example:
  qagent ask "Who won the Nobel Prize in Literature 2023?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := a.question(args)
			if err != nil {
				return err
			}
			rt, err := a.newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			loop, err := rt.questionLoop()
			if err != nil {
				return err
			}

			out := a.renderer()
			stop := rt.watchSteps(newRenderer(a.stderr, a.cfg.UI.Width, a.plain))
			started := time.Now()
			res, err := loop.Run(cmd.Context(), question)
			stop()

			if err != nil {
				if res == nil || !(errors.Is(err, domain.ErrMaxTurns) || errors.Is(err, domain.ErrNoProgress)) {
					return err
				}
				out.Error(err)
				if res.TraceID != "" {
					rt.timing(out, time.Since(started), res.TraceID)
				}
				return err
			}

			out.Label("Answer:")
			out.Answer(res.Answer)
			rt.timing(out, time.Since(started), res.TraceID)
			return nil
		},
	}
}

func (a *app) searchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search [question]",
		Short: "Answer a question from passages retrieved on the web",
		Long: `Search the web, index the top results and answer from the most relevant
passages, citing their sources.

Example:
  qagent search -k 5 "What is the tallest building in Europe?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := a.question(args)
			if err != nil {
				return err
			}
			rt, err := a.newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			out := a.renderer()
			stop := rt.watchSteps(newRenderer(a.stderr, a.cfg.UI.Width, a.plain))
			started := time.Now()
			ans, err := rt.ragAnswerer().Answer(cmd.Context(), question, nil)
			stop()
			if err != nil {
				return err
			}

			out.Label("Answer:")
			out.Answer(ans.Answer)
			out.Sources(ans.Chunks)
			rt.timing(out, time.Since(started), ans.TraceID)
			return nil
		},
	}
}
