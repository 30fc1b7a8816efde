package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/watarai/vizsla/pkg/adapter"
	"github.com/watarai/vizsla/pkg/model"
	"github.com/watarai/vizsla/pkg/repository"
	"github.com/watarai/vizsla/pkg/usecase/chat"
	"github.com/watarai/vizsla/pkg/usecase/memory"
	"github.com/watarai/vizsla/pkg/usecase/retrieval"
	"github.com/watarai/vizsla/pkg/utils/logging"
	"gopkg.in/yaml.v3"
)

// config holds configuration values shared across commands
type config struct {
	logLevel string

	// Repository
	project  string
	database string

	// Gemini
	geminiProject  string
	geminiLocation string

	// Chunk index backend
	chunkBackend    string
	chunkCollection string
	bqDataset       string
	bqTable         string

	// Archive bucket for pruned transcript segments
	bucket string

	// Retention policy YAML, optional
	retentionPath string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("VIZSLA_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "retention-config",
			Usage:       "Path to retention policy YAML",
			Sources:     cli.EnvVars("VIZSLA_RETENTION_CONFIG"),
			Destination: &cfg.retentionPath,
		},
	}
}

// llmFlags returns flags for LLM and embedding configuration
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
	}
}

// chunkFlags returns flags for the chunk index backend
func chunkFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "chunk-backend",
			Usage:       "Chunk index backend (firestore, bigquery)",
			Value:       "firestore",
			Sources:     cli.EnvVars("VIZSLA_CHUNK_BACKEND"),
			Destination: &cfg.chunkBackend,
		},
		&cli.StringFlag{
			Name:        "chunk-collection",
			Usage:       "Firestore collection holding the chunk index",
			Value:       "chunks",
			Sources:     cli.EnvVars("VIZSLA_CHUNK_COLLECTION"),
			Destination: &cfg.chunkCollection,
		},
		&cli.StringFlag{
			Name:        "bq-dataset",
			Usage:       "BigQuery dataset holding the chunk index",
			Sources:     cli.EnvVars("VIZSLA_BQ_DATASET"),
			Destination: &cfg.bqDataset,
		},
		&cli.StringFlag{
			Name:        "bq-table",
			Usage:       "BigQuery table holding the chunk index",
			Value:       "chunks",
			Sources:     cli.EnvVars("VIZSLA_BQ_TABLE"),
			Destination: &cfg.bqTable,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for pruned transcript archives",
			Sources:     cli.EnvVars("VIZSLA_ARCHIVE_BUCKET"),
			Destination: &cfg.bucket,
		},
	}
}

// setupLogger builds the logger from flags and attaches it to the context
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newRepository creates a conversation repository
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	if cfg.project == "" {
		return nil, goerr.New("project is required")
	}
	if cfg.database == "" {
		return nil, goerr.New("database is required")
	}

	repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newGemini creates the Gemini adapter used for both completion and embedding
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation)
}

// newChunkStore creates the chunk index client for the selected backend.
// Firestore filters scope at the query boundary; BigQuery relies on the
// orchestrator's client-side fallback.
func (cfg *config) newChunkStore(ctx context.Context) (adapter.ChunkStore, error) {
	if cfg.project == "" {
		return nil, goerr.New("project is required")
	}

	switch cfg.chunkBackend {
	case "firestore":
		store, err := adapter.NewFirestoreChunks(ctx, cfg.project, cfg.database, cfg.chunkCollection)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create chunk store")
		}
		return store, nil

	case "bigquery":
		if cfg.bqDataset == "" {
			return nil, goerr.New("bq-dataset is required")
		}
		store, err := adapter.NewBigQueryChunks(ctx, cfg.project, cfg.bqDataset, cfg.bqTable)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create chunk store")
		}
		return store, nil

	default:
		return nil, goerr.New("unknown chunk backend", goerr.V("backend", cfg.chunkBackend))
	}
}

// newArchive creates the optional pruned-transcript archive
func (cfg *config) newArchive(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket == "" {
		return nil, nil
	}

	archive, err := adapter.NewStorage(ctx, cfg.bucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create archive storage")
	}
	return archive, nil
}

// retentionPolicy loads the policy from YAML when configured, falling back
// to the tuned defaults
func (cfg *config) retentionPolicy() (model.RetentionPolicy, error) {
	policy := model.DefaultRetentionPolicy()
	if cfg.retentionPath == "" {
		return policy, nil
	}

	data, err := os.ReadFile(cfg.retentionPath)
	if err != nil {
		return policy, goerr.Wrap(err, "failed to read retention config",
			goerr.V("path", cfg.retentionPath))
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, goerr.Wrap(err, "failed to parse retention config",
			goerr.V("path", cfg.retentionPath))
	}
	if err := policy.Validate(); err != nil {
		return policy, err
	}
	return policy, nil
}

// newPipeline wires the full context pipeline from configuration
func (cfg *config) newPipeline(ctx context.Context) (*chat.Pipeline, *adapter.GeminiClient, error) {
	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, nil, err
	}

	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, nil, err
	}

	store, err := cfg.newChunkStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	policy, err := cfg.retentionPolicy()
	if err != nil {
		return nil, nil, err
	}

	var opts []memory.Option
	archive, err := cfg.newArchive(ctx)
	if err != nil {
		return nil, nil, err
	}
	if archive != nil {
		opts = append(opts, memory.WithArchive(archive))
	}

	manager, err := memory.New(repo, gemini, policy, opts...)
	if err != nil {
		return nil, nil, err
	}

	orchestrator := retrieval.New(gemini, store, gemini)
	return chat.NewPipeline(manager, orchestrator), gemini, nil
}
