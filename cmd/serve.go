package main

import (
	"bytes"
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
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/proximity-cli/internal/export"
	"github.com/sells-group/proximity-cli/internal/feature"
	"github.com/sells-group/proximity-cli/internal/filter"
	"github.com/sells-group/proximity-cli/internal/proximity"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proximity search HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := buildRouter(env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter assembles the API routes and middleware.
func buildRouter(env *storeEnv) chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/search", func(w http.ResponseWriter, req *http.Request) {
		handleSearch(env, w, req)
	})

	return r
}

// searchRequest is the POST /v1/search body.
type searchRequest struct {
	Collection   string          `json:"collection"`
	BufferMeters float64         `json:"buffer_meters"`
	References   json.RawMessage `json:"references"` // GeoJSON FeatureCollection
	Where        map[string]any  `json:"where,omitempty"`
}

func handleSearch(env *storeEnv, w http.ResponseWriter, req *http.Request) {
	rid := requestIDFrom(req)
	log := zap.L().With(zap.String("request_id", rid))

	var body searchRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.Collection == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "collection is required"})
		return
	}
	if len(body.References) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "references is required"})
		return
	}
	if body.BufferMeters < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "buffer_meters must be non-negative"})
		return
	}

	refs, err := feature.ReadGeoJSON(bytes.NewReader(body.References),
		feature.Schema{Name: "references", GeometryProperty: "geom"})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid references GeoJSON"})
		return
	}

	var restriction filter.Filter
	for k, v := range body.Where {
		eq := filter.Equals{Property: k, Value: v}
		if restriction == nil {
			restriction = eq
		} else {
			restriction = filter.And{Left: restriction, Right: eq}
		}
	}

	data := env.collection(body.Collection)

	acc, err := proximity.Execute(req.Context(), refs, data, body.BufferMeters,
		proximity.Options{Existing: restriction})
	if err != nil {
		log.Error("search failed",
			zap.String("collection", body.Collection),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "search failed"})
		return
	}

	log.Info("search complete",
		zap.String("collection", body.Collection),
		zap.Float64("buffer_meters", body.BufferMeters),
		zap.String("path", acc.Via().String()),
		zap.Int("skipped", acc.Skipped()),
	)

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Search-Path", acc.Via().String())
	w.WriteHeader(http.StatusOK)
	if err := export.WriteGeoJSON(req.Context(), w, acc.Results()); err != nil {
		log.Error("encode results", zap.Error(err))
	}
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// requestID assigns each request a UUID and echoes it in the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := context.WithValue(r.Context(), requestIDKey, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(r *http.Request) string {
	if rid, ok := r.Context().Value(requestIDKey).(string); ok {
		return rid
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
