package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/a2c-computer-go/pkg/config"
	mcpgateway "github.com/vikashloomba/a2c-computer-go/pkg/mcp-gateway"
)

func runCmd(rf *rootFlags) *cobra.Command {
	var gatewayAddr string
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the computer until interrupted, reloading the config file when it changes",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, cmd, rf, false)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.Close()) }()

			group, ctx := errgroup.WithContext(ctx)
			if !noWatch {
				group.Go(func() error {
					return ignoreCancel(config.Watch(ctx, rf.Config, func(f *config.File, err error) {
						s.reload(ctx, f, err)
					}))
				})
			}
			if gatewayAddr == "" {
				gatewayAddr = s.file.Gateway.Addr
			}
			if gatewayAddr != "" {
				gw, err := mcpgateway.NewGateway(s.computer, &mcpgateway.Options{
					Addr:        gatewayAddr,
					Path:        s.file.Gateway.Path,
					CORSOrigins: s.file.Gateway.CORSOrigins,
					Logger:      s.log,
				})
				if err != nil {
					return err
				}
				defer gw.Close()
				group.Go(func() error {
					return ignoreCancel(gw.ListenAndServe(ctx))
				})
			}
			group.Go(func() error {
				<-ctx.Done()
				return nil
			})

			s.log.Info("computer running", "name", s.computer.Name(), "servers", len(s.computer.Servers()), "gateway", gatewayAddr)
			return group.Wait()
		},
	}
	cmd.Flags().StringVar(&gatewayAddr, "gateway", "", "serve the agent gateway on this address (overrides gateway.addr)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
