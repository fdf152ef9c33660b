package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/specsearch/internal/ai"
	"github.com/seanblong/specsearch/internal/chunker"
	"github.com/seanblong/specsearch/internal/config"
	"github.com/seanblong/specsearch/internal/index"
	"github.com/seanblong/specsearch/internal/objstore"
	"github.com/seanblong/specsearch/internal/pipeline"
	"github.com/seanblong/specsearch/internal/refresh"
	"github.com/seanblong/specsearch/internal/secrets"
)

func main() {
	fs := pflag.NewFlagSet("specsearch-pipeline", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		stdlog.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	log.Logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bucket, err := objstore.NewFS(cfg.BucketRoot)
	if err != nil {
		stdlog.Fatalf("Failed to open bucket: %v", err)
	}

	args := fs.Args()
	command := "process"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "refresh":
		r, err := refresh.New(bucket, cfg.Region, cfg.SourcePrefix)
		if err != nil {
			stdlog.Fatal(err)
		}
		res, err := r.Run(ctx)
		if err != nil {
			stdlog.Fatal(err)
		}
		log.Info().Str("key", res.Key).Int("kept_types", res.KeptResourceTypes).Msg("refresh complete")

	case "process", "watch":
		stage := newStage(ctx, cfg, bucket)
		if command == "watch" {
			if err := stage.Watch(ctx, bucket.Root(), cfg.SourcePrefix); err != nil && ctx.Err() == nil {
				stdlog.Fatal(err)
			}
			return
		}
		keys := args
		if len(keys) == 0 {
			reports, err := stage.ProcessAll(ctx, cfg.SourcePrefix)
			if err != nil {
				stdlog.Fatal(err)
			}
			for _, rep := range reports {
				log.Info().Str("source", rep.Source).Int("chunks", rep.Chunks).Int("processed", rep.Processed).Int("failed", rep.Failed).Msg("done")
			}
			return
		}
		for _, key := range keys {
			rep, err := stage.Process(ctx, key)
			if err != nil {
				log.Error().Err(err).Str("source", key).Msg("source object failed")
				continue
			}
			log.Info().Str("source", rep.Source).Int("chunks", rep.Chunks).Int("processed", rep.Processed).Int("failed", rep.Failed).Msg("done")
		}

	default:
		stdlog.Fatalf("unknown command %q (want refresh, process or watch)", command)
	}
}

func newStage(ctx context.Context, cfg config.Specification, bucket *objstore.FS) *pipeline.Stage {
	client, err := ai.NewClient(ctx, clientConfig(cfg))
	if err != nil {
		stdlog.Fatalf("Failed to create AI client: %v", err)
	}
	if client.Dim() == 0 {
		stdlog.Fatal("embedding dimension must be set")
	}

	dsn, err := indexDSN(cfg)
	if err != nil {
		stdlog.Fatalf("Failed to resolve index credentials: %v", err)
	}
	ix, err := index.New(ctx, dsn)
	if err != nil {
		stdlog.Fatalf("Failed to connect to index: %v", err)
	}
	if err := ix.Ensure(ctx, client.Dim()); err != nil {
		stdlog.Fatalf("Failed to ensure index schema: %v", err)
	}

	return pipeline.New(bucket, chunker.New(cfg.ChunkPrefix, cfg.ChunkWindow), client, ix, cfg.Workers)
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
