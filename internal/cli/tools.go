package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manthysbr/qagent/internal/adapters/surface"
	"github.com/manthysbr/qagent/internal/config"
	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/services"
)

func (a *app) toolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools each assistant can call",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			questions, err := rt.registry(
				services.NewSearchTool(rt.retriever(), a.cfg.Search.K),
				services.NewConvertTimeTool(),
			)
			if err != nil {
				return err
			}
			drawing, err := rt.registry(services.NewDrawTool(services.NewDrawingInterpreter(a.logger, surface.NewRecorder())))
			if err != nil {
				return err
			}

			out := a.renderer()
			for _, group := range []struct {
				label string
				reg   *domain.ToolRegistry
			}{
				{"ask, chat, serve:", questions},
				{"draw:", drawing},
			} {
				out.Label(group.label)
				fmt.Fprint(a.stdout, group.reg.FormatToolsForPrompt())
			}
			return nil
		},
	}
}

func (a *app) secretCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage encrypted config values",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a value for use in .qagent.yaml",
		Long: `Encrypt an API key with the local secret key (QAGENT_SECRET_KEY, or
~/.qagent/secret.key which is created on first use). Paste the printed
"enc:" value into the config file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return errors.New("nothing to encrypt")
			}
			key, err := config.NewSecretKey("")
			if err != nil {
				return err
			}
			enc, err := key.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, enc)
			return nil
		},
	}, &cobra.Command{
		Use:   "decrypt <value>",
		Short: "Decrypt an enc: value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := config.NewSecretKey("")
			if err != nil {
				return err
			}
			plain, err := key.Decrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, plain)
			return nil
		},
	})
	return cmd
}
