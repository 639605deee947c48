package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/paybridge/internal/params"
)

func resolveCmd() *cobra.Command {
	var maxDepth int

	cmd := &cobra.Command{
		Use:   "resolve [query-or-fragment]",
		Short: "Print the launch parameters a query or fragment string resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := params.ResolveDepth(launchString(args[0]), maxDepth)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(map[string]*string{
				params.KeyEnvironment:    p.Environment,
				params.KeyLanguageTag:    p.LanguageTag,
				params.KeyConversationID: p.ConversationID,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().IntVar(&maxDepth, "max-depth", params.DefaultMaxDepth, "Maximum nested state levels to unwrap")
	return cmd
}

// launchString accepts a query ("?a=b"), a fragment ("#a=b") or a bare string.
func launchString(arg string) string {
	if strings.HasPrefix(arg, "#") {
		return params.Source("", arg)
	}
	return params.Source(arg, "")
}
