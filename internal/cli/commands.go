package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/fluxion-chat/internal/chat"
	"github.com/ashureev/fluxion-chat/internal/domain"
)

const requestTimeout = 15 * time.Second

func clientFor(opts *rootOptions) (*apiClient, context.Context, context.CancelFunc, error) {
	c, err := newAPIClient(opts.addr)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	return c, ctx, cancel, nil
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show connection and model status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, cancel, err := clientFor(opts)
			if err != nil {
				return err
			}
			defer cancel()

			var view chat.View
			if err := c.do(ctx, http.MethodGet, "/api/state", nil, &view); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if view.Connected {
				printSuccess(out, "connected (%s)", view.Status)
			} else {
				printWarning(out, "not connected (%s)", view.Status)
			}
			fmt.Fprintf(out, "client id: %s\n", view.ClientID)
			fmt.Fprintf(out, "model:     %s / %s\n", view.LLM.Provider.Label(), view.LLM.Model)
			fmt.Fprintf(out, "messages:  %d\n", len(view.Messages))
			if view.Typing {
				infoColor.Fprintln(out, "agent is typing…")
			}
			return nil
		},
	}
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <message>",
		Short: "send a message to the agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := clientFor(opts)
			if err != nil {
				return err
			}
			defer cancel()

			text := strings.Join(args, " ")
			err = c.do(ctx, http.MethodPost, "/api/messages", map[string]string{"content": text}, nil)
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
				return fmt.Errorf("not connected to the agent; check 'fluxion status'")
			}
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "show or clear the conversation",
	}

	var withProgress bool
	show := &cobra.Command{
		Use:   "show",
		Short: "print the message log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, cancel, err := clientFor(opts)
			if err != nil {
				return err
			}
			defer cancel()

			var msgs struct {
				Messages []domain.Message `json:"messages"`
			}
			if err := c.do(ctx, http.MethodGet, "/api/messages", nil, &msgs); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(msgs.Messages) == 0 {
				fmt.Fprintln(out, "no messages")
			}
			for _, m := range msgs.Messages {
				printMessage(out, m)
			}

			if !withProgress {
				return nil
			}
			var prog struct {
				Progress []domain.ProgressEvent `json:"progress"`
			}
			if err := c.do(ctx, http.MethodGet, "/api/progress", nil, &prog); err != nil {
				return err
			}
			if len(prog.Progress) > 0 {
				boldColor.Fprintln(out, "\nPROGRESS")
			}
			for _, ev := range prog.Progress {
				printProgress(out, ev)
			}
			return nil
		},
	}
	show.Flags().BoolVarP(&withProgress, "progress", "p", false, "also print agent progress events")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "clear the conversation locally and on the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, cancel, err := clientFor(opts)
			if err != nil {
				return err
			}
			defer cancel()

			if err := c.do(ctx, http.MethodDelete, "/api/messages", nil, nil); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "history cleared")
			return nil
		},
	}

	cmd.AddCommand(show, clearCmd)
	return cmd
}

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "show or change the language model",
	}

	update := func(cmd *cobra.Command, body map[string]string) error {
		c, ctx, cancel, err := clientFor(opts)
		if err != nil {
			return err
		}
		defer cancel()

		var cfg domain.LLMConfig
		if err := c.do(ctx, http.MethodPut, "/api/settings/llm", body, &cfg); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "using %s / %s", cfg.Provider.Label(), cfg.Model)
		return nil
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "print the current provider and model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ctx, cancel, err := clientFor(opts)
			if err != nil {
				return err
			}
			defer cancel()

			var cfg domain.LLMConfig
			if err := c.do(ctx, http.MethodGet, "/api/settings/llm", nil, &cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provider: %s (%s)\nmodel:    %s\n", cfg.Provider.Label(), cfg.Provider, cfg.Model)
			return nil
		},
	}

	provider := &cobra.Command{
		Use:       "provider <name>",
		Short:     "switch provider; the model resets to its default",
		Args:      cobra.ExactArgs(1),
		ValidArgs: providerNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(cmd, map[string]string{"provider": args[0]})
		},
	}

	model := &cobra.Command{
		Use:   "model <name>",
		Short: "switch model within the current provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(cmd, map[string]string{"model": args[0]})
		},
	}

	cmd.AddCommand(show, provider, model)
	return cmd
}

func providerNames() []string {
	names := make([]string, 0, len(domain.Providers()))
	for _, p := range domain.Providers() {
		names = append(names, string(p))
	}
	return names
}

// newProvidersCmd lists the built-in catalog. It does not need the daemon.
func newProvidersCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "list providers and their models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tLABEL\tDEFAULT\tMODELS")
			for _, p := range domain.Providers() {
				spec, _ := p.Spec()
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p, spec.Label, spec.DefaultModel, strings.Join(spec.Models, ", "))
			}
			return tw.Flush()
		},
	}
}
