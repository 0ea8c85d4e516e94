package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/engram/internal/app"
)

func NewRunCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch for meetings and record them until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, deps.Config)
			if err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}
			runErr := application.Run(ctx)
			if err := application.Close(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}
