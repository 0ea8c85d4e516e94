package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/engram/internal/server"
)

func NewStatusCmd(deps *Dependencies) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the meeting state, the active recording and the processing queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st server.StatusResponse
			if err := newAPIClient(addr).do(cmd.Context(), "GET", "/api/status", &st); err != nil {
				return err
			}
			f := newFormatter(os.Stdout)
			f.Status(st)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", deps.Config.HTTPAddr, "address of the running engram")
	return cmd
}

func NewStopCmd(deps *Dependencies) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the current recording and queue it for transcription",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				RecordingID string `json:"recording_id"`
			}
			if err := newAPIClient(addr).do(cmd.Context(), "POST", "/api/recording/stop", &out); err != nil {
				return err
			}
			newFormatter(os.Stdout).Success(fmt.Sprintf("Recording saved: %s", out.RecordingID))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", deps.Config.HTTPAddr, "address of the running engram")
	return cmd
}
