package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/contact-engine/internal/model"
)

var servePort int

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for platform ingest",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		limiter := rate.NewLimiter(rate.Limit(cfg.Server.IngestRateLimit), cfg.Server.IngestBurst)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/webhook/ingest", func(w http.ResponseWriter, req *http.Request) {
			if !limiter.Allow() {
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			var raw model.RawRecord
			if err := json.NewDecoder(req.Body).Decode(&raw); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}
			if raw.SourcePlatform == "" {
				http.Error(w, `{"error":"source_platform is required"}`, http.StatusBadRequest)
				return
			}
			if raw.ObservedAt.IsZero() {
				raw.ObservedAt = time.Now().UTC()
			}

			res, err := env.Engine.Ingest(req.Context(), raw)
			if err != nil {
				zap.L().Error("webhook ingest failed",
					zap.String("platform", raw.SourcePlatform),
					zap.Error(err))
				http.Error(w, `{"error":"ingest failed"}`, http.StatusUnprocessableEntity)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/webhook/event", func(w http.ResponseWriter, req *http.Request) {
			if !limiter.Allow() {
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			var ev model.Event
			if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}

			if err := env.Engine.RecordEvent(req.Context(), ev); err != nil {
				zap.L().Error("webhook event failed",
					zap.String("platform", ev.SourcePlatform),
					zap.String("source_id", ev.SourceID),
					zap.Error(err))
				http.Error(w, `{"error":"event upsert failed"}`, http.StatusUnprocessableEntity)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		})

		r.Get("/contacts/{id}/attribution", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			chains, err := env.Engine.AttributeContact(req.Context(), id)
			if err != nil {
				zap.L().Error("attribution failed", zap.String("contact_id", id), zap.Error(err))
				http.Error(w, `{"error":"attribution failed"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"contact_id": id,
				"chains":     chains,
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go shutdownOnCancel(ctx, srv)

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// shutdownOnCancel waits for ctx to be cancelled, then drains in-flight
// requests. The drain runs on a fresh context: the trigger context is already
// dead by then, and passing it to Shutdown would abort connections immediately.
func shutdownOnCancel(ctx context.Context, srv *http.Server) {
	<-ctx.Done()
	zap.L().Info("shutting down server")

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		zap.L().Warn("server shutdown", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
