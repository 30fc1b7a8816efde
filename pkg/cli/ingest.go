package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/watarai/vizsla/pkg/adapter"
	"github.com/watarai/vizsla/pkg/utils/logging"
)

// ingest is thin I/O glue: it splits plain text files into overlapping
// chunks, embeds them and upserts into the chunk index. Heavier ingestion
// (OCR, format conversion) belongs to an external pipeline.
func ingestCommand() *cli.Command {
	var (
		cfg       config
		chunkSize int64
		overlap   int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "chunk-size",
			Usage:       "Chunk size in runes",
			Value:       1000,
			Sources:     cli.EnvVars("VIZSLA_CHUNK_SIZE"),
			Destination: &chunkSize,
		},
		&cli.IntFlag{
			Name:        "overlap",
			Usage:       "Overlap between adjacent chunks in runes",
			Value:       200,
			Sources:     cli.EnvVars("VIZSLA_CHUNK_OVERLAP"),
			Destination: &overlap,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, chunkFlags(&cfg)...)

	return &cli.Command{
		Name:      "ingest",
		Usage:     "Index plain text files into the chunk store",
		ArgsUsage: "<file>...",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			paths := c.Args().Slice()
			if len(paths) == 0 {
				return goerr.New("at least one file argument is required")
			}
			if overlap >= chunkSize {
				return goerr.New("overlap must be smaller than chunk-size")
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			store, err := cfg.newChunkStore(ctx)
			if err != nil {
				return err
			}

			for _, path := range paths {
				data, err := os.ReadFile(path)
				if err != nil {
					return goerr.Wrap(err, "failed to read file", goerr.V("path", path))
				}

				docID := uuid.New().String()
				filename := filepath.Base(path)
				pieces := splitText(string(data), int(chunkSize), int(overlap))

				entries := make([]*adapter.ChunkEntry, 0, len(pieces))
				for i, piece := range pieces {
					embedding, err := gemini.Embed(ctx, piece)
					if err != nil {
						return goerr.Wrap(err, "failed to embed chunk",
							goerr.V("path", path), goerr.V("index", i))
					}
					entries = append(entries, &adapter.ChunkEntry{
						ChunkID:    fmt.Sprintf("%s-%d", docID, i),
						DocumentID: docID,
						Filename:   filename,
						Content:    piece,
						Embedding:  embedding,
					})
				}

				if err := store.Upsert(ctx, entries); err != nil {
					return goerr.Wrap(err, "failed to upsert chunks", goerr.V("path", path))
				}

				logging.From(ctx).Info("indexed document",
					"path", path, "document_id", docID, "chunks", len(entries))
				fmt.Fprintf(c.Root().Writer, "%s: %d chunks (document %s)\n", filename, len(entries), docID)
			}

			return nil
		},
	}
}

// splitText cuts text into rune-based chunks with overlap, trimming
// whitespace-only pieces
func splitText(text string, size, overlap int) []string {
	runes := []rune(text)
	step := size - overlap

	var pieces []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			pieces = append(pieces, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return pieces
}
