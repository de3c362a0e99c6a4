package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/a2c-computer-go/pkg/computer"
)

func toolsCmd(rf *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools of every connected server",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, rf, true)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.Close()) }()

			resp := s.computer.HandleListTools(ctx, computer.ListToolsRequest{})
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSERVER\tTOOL\tCONFIRM\tTAGS")
			for _, t := range resp.Tools {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\n", t.Name, t.Server, t.OriginalName, t.NeedsConfirmation(), strings.Join(t.Meta.Tags, ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, server := range sortedNames(resp.Errors) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", server, resp.Errors[server])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the list_tools response as JSON")
	return cmd
}

func callCmd(rf *rootFlags) *cobra.Command {
	var params string
	var timeout time.Duration
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "call TOOL",
		Short: "Call a tool by its effective name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var arguments map[string]any
			if params != "" {
				if err := json.Unmarshal([]byte(params), &arguments); err != nil {
					return fmt.Errorf("invalid --params: %w", err)
				}
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, rf, true)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.Close()) }()

			resp := s.computer.HandleToolCall(ctx, computer.ToolCallRequest{
				ToolName: args[0],
				Params:   arguments,
				Timeout:  timeout.Seconds(),
			})
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			if resp.Result != nil {
				printContent(cmd.OutOrStdout(), resp.Result)
			}
			if !resp.Success {
				return fmt.Errorf("call %s: %s", args[0], resp.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&params, "params", "p", "", "tool arguments as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "call timeout (defaults to the server timeout)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the tool_call response as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
