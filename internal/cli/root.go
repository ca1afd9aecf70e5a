// Package cli implements the qagent command line: one-shot questions, web
// search answers, the chat and drawing REPLs, and the HTTP server.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/manthysbr/qagent/internal/config"
	"github.com/manthysbr/qagent/internal/core/domain"
)

// app holds what every subcommand shares once the config is loaded.
type app struct {
	configPath string
	plain      bool

	cfg      *domain.AppConfig
	settings *config.SettingsStore
	logger   *slog.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// flagKeys binds persistent flags to config keys.
var flagKeys = map[string]string{
	"model":   "providers.llm.default_model",
	"verbose": "ui.verbose",
	"time":    "ui.timing",
	"width":   "ui.width",
	"k":       "search.k",
	"persist": "search.persist_dir",
}

// NewRootCommand builds the qagent command tree.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "qagent",
		Short: "A reason-then-act agent for local and remote language models",
		Long: `qagent drives a text-generation model in a loop. Each response is read as
a final answer or a tool request; tool results are fed back into the next prompt.

Commands:
  ask     answer a question, searching the web when needed
  search  answer a question from retrieved web passages
  chat    ask several questions in one conversation
  draw    describe drawings and render them to SVG
  serve   run the HTTP API
  tools   list the available tools
  secret  encrypt values for the config file`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.Root().PersistentFlags())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (default .qagent.yaml in . or $HOME)")
	pf.StringP("model", "m", "", "model name, e.g. mistral or gpt-4o-mini")
	pf.BoolP("verbose", "v", false, "print every step of the run")
	pf.BoolP("time", "t", false, "print how long each step took")
	pf.IntP("width", "w", 0, "wrap answers at this many columns")
	pf.Int("k", 0, "number of passages to retrieve")
	pf.String("persist", "", "keep indexed passages in this directory")
	pf.BoolVar(&a.plain, "plain", false, "disable colors and markdown rendering")

	root.AddCommand(
		a.askCommand(),
		a.searchCommand(),
		a.chatCommand(),
		a.drawCommand(),
		a.serveCommand(),
		a.toolsCommand(),
		a.secretCommand(),
	)
	return root
}

// Execute runs the command line with the process's standard streams.
func Execute(ctx context.Context) error {
	return NewRootCommand(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
}

func (a *app) load(flags *pflag.FlagSet) error {
	bound := make(map[string]*pflag.Flag, len(flagKeys))
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil && f.Changed {
			bound[key] = f
		}
	}
	cfg, err := config.Load(a.configPath, bound)
	if err != nil {
		return err
	}

	a.logger = newLogger(a.stderr, cfg.UI.Verbose, a.plain)

	var secret *config.SecretKey
	if hasEncrypted(cfg) {
		if secret, err = config.NewSecretKey(""); err != nil {
			return err
		}
	}
	if a.settings, err = config.NewSettingsStore(a.logger, cfg, secret); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = a.settings.GetConfig()
	return nil
}

func hasEncrypted(cfg *domain.AppConfig) bool {
	for _, v := range []string{cfg.Providers.LLM.APIKey, cfg.Providers.Embed.APIKey, cfg.Search.BraveAPIKey} {
		if strings.HasPrefix(v, "enc:") {
			return true
		}
	}
	return false
}

// question joins args, or reads stdin when there are none.
func (a *app) question(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(a.stdin)
	if err != nil {
		return "", fmt.Errorf("read question: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (a *app) renderer() *renderer {
	return newRenderer(a.stdout, a.cfg.UI.Width, a.plain)
}
