package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/watarai/vizsla/pkg/model"
	"github.com/watarai/vizsla/pkg/usecase/retrieval"
)

func askCommand() *cli.Command {
	var (
		cfg   config
		mode  string
		scope []string
		topK  int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "mode",
			Aliases:     []string{"m"},
			Usage:       "Search mode (standard, rephrase, multi_query)",
			Value:       string(model.SearchModeStandard),
			Destination: &mode,
		},
		&cli.StringSliceFlag{
			Name:        "scope",
			Aliases:     []string{"s"},
			Usage:       "Restrict retrieval to these document IDs",
			Destination: &scope,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Aliases:     []string{"k"},
			Usage:       "Maximum chunks to return",
			Value:       8,
			Destination: &topK,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, chunkFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Run one retrieval query and print the ranked chunks",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			query := c.Args().First()
			if query == "" {
				return goerr.New("query argument is required")
			}

			searchMode := model.SearchMode(mode)
			if err := searchMode.Validate(); err != nil {
				return err
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			store, err := cfg.newChunkStore(ctx)
			if err != nil {
				return err
			}

			orchestrator := retrieval.New(gemini, store, gemini)
			chunks, err := orchestrator.Search(ctx, query, searchMode, int(topK), scope)
			if err != nil {
				return goerr.Wrap(err, "search failed")
			}

			if len(chunks) == 0 {
				fmt.Fprintf(c.Root().Writer, "No chunks found\n")
				return nil
			}

			for i, chunk := range chunks {
				fmt.Fprintf(c.Root().Writer, "%d. [%s] score=%.4f\n", i+1, chunk.Filename, chunk.Score)
				if chunk.SourceQuery != chunk.OriginalQuery {
					fmt.Fprintf(c.Root().Writer, "   via: %s\n", chunk.SourceQuery)
				}
				fmt.Fprintf(c.Root().Writer, "   %s\n\n", chunk.Content)
			}

			return nil
		},
	}
}
