package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gosight/pagelab/internal/editor"
)

func newBindCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "bind <file>",
		Short:   "Mark the editable regions of a page",
		Long:    `Fetch the page's content map from the API and mark every matching region of the file editable.`,
		GroupID: "editor",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := opts.logger(cmd)
			doc, err := readDoc(cmd, args[0])
			if err != nil {
				return err
			}
			pageID, err := opts.pageIDFor(doc)
			if err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}

			sess, err := editor.NewSession(pageID, doc, client, client, log)
			if err != nil {
				return err
			}
			n, err := sess.Init(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Str("page_id", pageID).Int("regions", n).Msg("Editable regions bound")
			return opts.writeDoc(cmd, doc)
		},
	}
}

func newCollectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "collect <file>",
		Short:   "Print the change set of a bound page",
		GroupID: "editor",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDoc(cmd, args[0])
			if err != nil {
				return err
			}
			cs, err := editor.Collect(doc)
			if err != nil {
				return err
			}
			return printJSON(cmd, cs)
		},
	}
}

func newSaveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "save <file>",
		Short:   "Save the edits of a bound page",
		Long:    `Collect the current content of every editable region of the file and store it as the page's active content version.`,
		GroupID: "editor",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := opts.logger(cmd)
			doc, err := readDoc(cmd, args[0])
			if err != nil {
				return err
			}
			pageID, err := opts.pageIDFor(doc)
			if err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}

			cs, err := editor.NewSaver(client, log).Save(cmd.Context(), pageID, doc)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), editor.StateFailed.Label())
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd, cs)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d regions)\n", editor.StateSaved.Label(), len(cs))
			return nil
		},
	}
}

func newActivateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "activate <version-id>",
		Short:   "Make a content version the active one for its page",
		GroupID: "editor",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.ActivateVersion(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Version %s activated\n", args[0])
			return nil
		},
	}
}
