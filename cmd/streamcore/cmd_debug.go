package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/parakeetlabs/streamcore/internal/config"
	"github.com/parakeetlabs/streamcore/internal/controller"
	"github.com/parakeetlabs/streamcore/internal/infrastructure/redis"
	"github.com/parakeetlabs/streamcore/internal/recovery"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(debugCmd)
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Serve the session and snapshot inspection endpoints",
	RunE:  runDebug,
}

func runDebug(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl, registry := buildController(controller.Callbacks{})
	manager := newSnapshotReader()

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/debug/sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, registry.Views())
	}).Methods(http.MethodGet)
	r.HandleFunc("/debug/streams", func(w http.ResponseWriter, _ *http.Request) {
		states := make(map[string]string)
		for id, st := range ctrl.States() {
			states[id] = st.String()
		}
		writeJSON(w, states)
	}).Methods(http.MethodGet)
	r.HandleFunc("/debug/snapshots", func(w http.ResponseWriter, req *http.Request) {
		snaps, err := manager.ListRecoverable(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, snaps)
	}).Methods(http.MethodGet)

	// Sessions abandoned without any transport activity are swept out on a
	// fixed cadence.
	staleThreshold := config.GetStaleThreshold()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, id := range registry.EvictStale(staleThreshold) {
					log.Warn().Str("stream_id", id).Msg("Evicted stale session")
				}
			}
		}
	}()

	addr := config.GetDebugAddr()
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Debug server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func newSnapshotReader() *recovery.Manager {
	store := recovery.NewStore(redis.NewService())
	return recovery.NewManager(store, recovery.Config{
		StaleThreshold: config.GetStaleThreshold(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
