package cli

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/engram/internal/capture/audio"
	"github.com/GriffinCanCode/engram/internal/config"
	"github.com/GriffinCanCode/engram/internal/grpcclient"
	"github.com/GriffinCanCode/engram/internal/media"
	"github.com/GriffinCanCode/engram/internal/store"
	"github.com/GriffinCanCode/engram/internal/store/postgres"
)

const doctorTimeout = 10 * time.Second

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
			defer cancel()

			f := newFormatter(os.Stdout)
			ok := true
			for _, c := range doctorChecks(deps.Config) {
				detail, err := c.run(ctx)
				if err != nil {
					f.Check(c.name, false, err.Error())
					ok = false
					continue
				}
				f.Check(c.name, true, detail)
			}

			if ok {
				f.Success("\nAll prerequisites met. Ready to record!")
			} else {
				f.Warning("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func doctorChecks(cfg *config.Config) []check {
	checks := []check{
		{"ffmpeg", func(context.Context) (string, error) {
			if err := media.New(cfg.FFmpegPath, cfg.FFprobePath).Check(); err != nil {
				return "", err
			}
			return "installed", nil
		}},
		{"Microphone", func(ctx context.Context) (string, error) {
			rec := audio.NewRecorder(audio.Config{
				SampleRate:         cfg.SampleRate,
				CaptureSystemAudio: cfg.CaptureSystemAudio,
				ExcludedDevices:    cfg.ExcludedAudioDevices,
			}, nil)
			if err := rec.RequestPermission(ctx); err != nil {
				return "", err
			}
			return "input device available", nil
		}},
		{"Inference server", func(ctx context.Context) (string, error) {
			client, err := grpcclient.New(cfg.InferenceAddr)
			if err != nil {
				return "", err
			}
			defer client.Close()
			if !client.Healthy(ctx) {
				return "", errUnhealthy(cfg.InferenceAddr)
			}
			return cfg.InferenceAddr, nil
		}},
		{"Recording store", func(ctx context.Context) (string, error) {
			if cfg.DatabaseURL != "" {
				st, err := postgres.Open(ctx, cfg.DatabaseURL)
				if err != nil {
					return "", err
				}
				st.Close()
				return "postgres", nil
			}
			st, err := store.OpenFile(cfg.RecordingsDir)
			if err != nil {
				return "", err
			}
			st.Close()
			return cfg.RecordingsDir, nil
		}},
	}
	if cfg.RedisAddr != "" {
		checks = append(checks, check{"Redis", func(ctx context.Context) (string, error) {
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			defer client.Close()
			if err := client.Ping(ctx).Err(); err != nil {
				return "", err
			}
			return cfg.RedisAddr, nil
		}})
	}
	return checks
}

type errUnhealthy string

func (e errUnhealthy) Error() string { return "not serving at " + string(e) }
