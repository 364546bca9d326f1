package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apiserver "github.com/eduvid/explainer/internal/api_server"
	"github.com/eduvid/explainer/internal/artifact"
	"github.com/eduvid/explainer/internal/concept"
	"github.com/eduvid/explainer/internal/config"
	"github.com/eduvid/explainer/internal/formatter"
	"github.com/eduvid/explainer/internal/generator"
	"github.com/eduvid/explainer/internal/orchestrator"
	"github.com/eduvid/explainer/internal/pipeline"
	"github.com/eduvid/explainer/internal/renderer"
	"github.com/eduvid/explainer/internal/store"
	"github.com/eduvid/explainer/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the explainer api and pipeline workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}

		logger := log.Setup(cfg.Service.LogLevel)
		defer func() { _ = logger.Sync() }()

		zap.S().Named("explainer-api").Infof("Starting API service with config: %s", cfg)
		defer zap.S().Named("explainer-api").Info("API service stopped")

		db, err := store.InitDB(cfg)
		if err != nil {
			return fmt.Errorf("initializing data store: %w", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if err := s.InitialMigration(); err != nil {
			return fmt.Errorf("running initial migration: %w", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		adapters, err := buildAdapters(ctx, cfg)
		if err != nil {
			return err
		}

		artifacts, err := buildArtifactStore(cfg)
		if err != nil {
			return fmt.Errorf("initializing artifact store: %w", err)
		}

		orch := orchestrator.New(s, artifacts, adapters, cfg)

		listener, err := newListener(cfg.Service.Address)
		if err != nil {
			return fmt.Errorf("creating listener: %w", err)
		}

		group, ctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return apiserver.New(cfg, orch, listener).Run(ctx)
		})
		group.Go(func() error {
			return orch.Run(ctx)
		})

		return group.Wait()
	},
}

func buildAdapters(ctx context.Context, cfg *config.Config) (orchestrator.Adapters, error) {
	concepts, err := concept.NewFileStore(cfg.Service.GraphPath)
	if err != nil {
		return orchestrator.Adapters{}, fmt.Errorf("loading concept graph: %w", err)
	}

	var gen pipeline.Generator
	switch cfg.Service.Generator {
	case "openai":
		gen, err = generator.NewOpenAIGenerator(ctx, generator.OpenAIConfig{
			APIKey:  cfg.Service.OpenAIKey,
			Model:   cfg.Service.OpenAIModel,
			BaseURL: cfg.Service.OpenAIBaseUrl,
		})
		if err != nil {
			return orchestrator.Adapters{}, fmt.Errorf("initializing openai generator: %w", err)
		}
	default:
		gen = generator.NewTemplateGenerator()
	}

	var rend pipeline.Renderer
	if cfg.Service.RendererUrl != "" {
		rend = renderer.NewHTTPRenderer(cfg.Service.RendererUrl)
	} else {
		rend = renderer.NewStubRenderer()
	}

	return orchestrator.Adapters{
		Concepts:  concepts,
		Generator: gen,
		Formatter: formatter.New(),
		Renderer:  rend,
	}, nil
}

func buildArtifactStore(cfg *config.Config) (artifact.Store, error) {
	switch cfg.Service.Artifacts {
	case "minio":
		return artifact.NewMinioStore(
			artifact.WithEndpoint(cfg.Service.MinioEndpoint),
			artifact.WithBucket(cfg.Service.MinioBucket),
			artifact.WithAccessKey(cfg.Service.MinioAccessKey),
			artifact.WithSecretKey(cfg.Service.MinioSecretKey),
			artifact.WithSSL(cfg.Service.MinioUseSSL),
		)
	case "memory":
		return artifact.NewMemoryStore(), nil
	default:
		return artifact.NewFSStore(cfg.Service.ArtifactsDir)
	}
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
