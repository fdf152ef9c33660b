package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/specsearch/internal/ai"
	"github.com/seanblong/specsearch/internal/auth"
	"github.com/seanblong/specsearch/internal/config"
	"github.com/seanblong/specsearch/internal/index"
	"github.com/seanblong/specsearch/internal/query"
	"github.com/seanblong/specsearch/internal/secrets"
)

func main() {
	fs := pflag.NewFlagSet("specsearch-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		stdlog.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting specsearch api")

	ctx := context.Background()

	client, err := ai.NewClient(ctx, clientConfig(cfg))
	if err != nil {
		stdlog.Fatalf("Failed to create AI client: %v", err)
	}
	dim := client.Dim()
	if dim == 0 {
		stdlog.Fatal("embedding dimension must be set")
	}
	logger.Info().Int("embedding_dim", dim).Msg("AI client initialized")

	dsn, err := indexDSN(cfg)
	if err != nil {
		stdlog.Fatalf("Failed to resolve index credentials: %v", err)
	}
	ix, err := index.New(ctx, dsn)
	if err != nil {
		stdlog.Fatalf("Failed to connect to index: %v", err)
	}
	defer ix.Close()

	if err := ix.Ensure(ctx, dim); err != nil {
		stdlog.Fatalf("Failed to ensure index schema: %v", err)
	}

	auth.Initialize(cfg.Auth.JwtSecret, cfg.Auth.Enabled)

	svc := query.NewInterpreter(client, ix)
	svc.PartialResults = cfg.PartialResults

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("/query", auth.Middleware(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		q := r.URL.Query().Get("q")
		k := cfg.TopK
		if v := r.URL.Query().Get("k"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				k = n
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		res, err := svc.Query(ctx, q, k)
		if err != nil {
			if errors.Is(err, query.ErrEmptyQuery) {
				http.Error(w, "missing query parameter q", http.StatusBadRequest)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			log.Error().Err(err).Msg("failed to encode response")
		}

		hlog.FromRequest(r).Info().Str("path", "/query").Str("q", strings.TrimSpace(q)).Int("k", k).Dur("dur", time.Since(start)).Msg("served")
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	stdlog.Fatal(s.ListenAndServe())
}

func clientConfig(cfg config.Specification) *ai.ClientConfig {
	cc := &ai.ClientConfig{
		APIKey:       cfg.APIKey,
		EmbedModel:   cfg.EmbedModel,
		ExplainModel: cfg.ExplainModel,
		Dim:          cfg.Dim,
		ProjectID:    cfg.ProjectID,
		Location:     cfg.Location,
		TokenBudget:  cfg.TokenBudget,
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		cc.Provider = ai.ProviderOpenAI
	case "vertexai", "google":
		cc.Provider = ai.ProviderVertexAI
	case "stub":
		cc.Provider = ai.ProviderStub
	default:
		stdlog.Fatalf("unsupported provider: %s", cfg.Provider)
	}
	return cc
}

// indexDSN resolves the similarity-index connection string, pulling
// credentials from the secret store when the configured URL carries none.
func indexDSN(cfg config.Specification) (string, error) {
	if cfg.IndexSecret == "" {
		return cfg.Database, nil
	}
	var store secrets.Store
	if cfg.SecretsFile != "" {
		f, err := secrets.NewFile(cfg.SecretsFile)
		if err != nil {
			return "", err
		}
		store = f
	} else {
		store = secrets.Env{Prefix: "SPECSEARCH"}
	}
	creds, err := store.Get(cfg.IndexSecret)
	if err != nil {
		return "", err
	}
	return index.WithCredentials(cfg.Database, creds)
}
