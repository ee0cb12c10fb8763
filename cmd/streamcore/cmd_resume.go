package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parakeetlabs/streamcore/internal/chunker"
	"github.com/parakeetlabs/streamcore/internal/config"
	"github.com/parakeetlabs/streamcore/internal/controller"
	"github.com/parakeetlabs/streamcore/internal/infrastructure/history"
	"github.com/parakeetlabs/streamcore/internal/infrastructure/redis"
	"github.com/parakeetlabs/streamcore/internal/recovery"
	"github.com/parakeetlabs/streamcore/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resumeCmd)
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume interrupted streams from their recovery snapshots",
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl, _ := buildController(controller.Callbacks{
		OnChunk: func(_, text string) {
			fmt.Fprint(os.Stdout, text)
		},
		OnDone: func(streamID string) {
			fmt.Fprintln(os.Stdout)
			log.Info().Str("stream_id", streamID).Msg("Stream resumed to completion")
		},
		OnError: func(streamID string, err error) {
			log.Error().Err(err).Str("stream_id", streamID).Msg("Resume failed")
		},
	})

	if err := ctrl.ResumeAll(ctx); err != nil {
		return fmt.Errorf("resume streams: %w", err)
	}

	// ResumeAll returns once every snapshot has a running pump; wait for the
	// pumps themselves to drain.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if len(ctrl.States()) == 0 {
				return nil
			}
		}
	}
}

// buildController wires the full streaming stack from environment config.
func buildController(cb controller.Callbacks) (*controller.Controller, *session.Registry) {
	redisService := redis.NewService()
	store := recovery.NewStore(redisService)
	manager := recovery.NewManager(store, recovery.Config{
		ContinuationURL: config.GetContinuationURL(),
		AuthToken:       config.GetAuthToken(),
		StaleThreshold:  config.GetStaleThreshold(),
	})

	var hist controller.HistoryStore
	if h := history.NewService(config.GetHistoryURL(), config.GetAuthToken()); h != nil {
		hist = h
	}

	registry := session.NewRegistry()
	ck := chunker.New(config.GetChunkMinSize(), config.GetChunkMaxSize(), config.GetChunkDelay())
	ctrl := controller.New(registry, manager, hist, ck, cb, controller.Config{
		SocketTimeout:  config.GetSocketStreamTimeout(),
		ChannelTimeout: config.GetChannelStreamTimeout(),
	})
	return ctrl, registry
}
