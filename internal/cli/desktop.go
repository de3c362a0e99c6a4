package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/a2c-computer-go/pkg/computer"
)

func desktopCmd(rf *rootFlags) *cobra.Command {
	var size int
	var window string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "desktop",
		Short: "Show the windows exposed by the connected servers",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, rf, true)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.Close()) }()

			req := computer.GetDesktopRequest{DesktopRequest: computer.DesktopRequest{WindowURI: window}}
			if cmd.Flags().Changed("size") {
				req.Size = &size
			}
			resp := s.computer.HandleGetDesktop(ctx, req)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			out := cmd.OutOrStdout()
			for _, w := range resp.Windows {
				fmt.Fprintf(out, "== %s (%s)\n%s\n", w.URI, w.Server, w.Content)
			}
			for _, e := range resp.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %s\n", e.Server, e.URI, e.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "maximum number of windows (all when unset)")
	cmd.Flags().StringVar(&window, "window", "", "only show this window URI")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the get_desktop response as JSON")
	return cmd
}
