package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/thannaske/s3tracker/pkg/report"
	"github.com/thannaske/s3tracker/pkg/tracker"
)

var listenAddr string

func trackHandler(recorder *tracker.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bucket := r.URL.Query().Get("bucket")
		if bucket == "" {
			bucket = cfg.Bucket
		}
		usage, err := recorder.Record(r.Context(), bucket)
		if err != nil {
			logger.Error().Err(err).Str("bucket", bucket).Msg("Error in size tracking")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tracker.Result{Status: tracker.StatusOK, Item: &usage})
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the plot and track endpoints over HTTP",
	Long: `Serve GET /plot?bucket= (chart and presigned link), POST /track?bucket=
(record one sample) and /metrics until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		s3Client, err := newS3Client(ctx)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		router := mux.NewRouter()
		report.Register(router, newReporter(store, s3Client), report.NewMeasures(reg), logger)
		router.HandleFunc("/track", trackHandler(tracker.NewRecorder(s3Client, store, logger))).Methods(http.MethodPost)
		router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		srv := &http.Server{
			Addr:              listenAddr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      time.Minute,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", listenAddr).Msg("Listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "address to listen on")
}
