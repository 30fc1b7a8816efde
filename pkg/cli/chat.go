package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/watarai/vizsla/pkg/model"
	"github.com/watarai/vizsla/pkg/usecase/chat"
)

func chatCommand() *cli.Command {
	var (
		cfg    config
		convID string
		userID string
		mode   string
		scope  []string
		topK   int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "conversation-id",
			Aliases:     []string{"c"},
			Usage:       "Conversation ID to continue (omit to start a new one)",
			Sources:     cli.EnvVars("VIZSLA_CONVERSATION_ID"),
			Destination: &convID,
		},
		&cli.StringFlag{
			Name:        "user-id",
			Aliases:     []string{"u"},
			Usage:       "User ID owning the conversation",
			Value:       "local",
			Sources:     cli.EnvVars("VIZSLA_USER_ID"),
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "mode",
			Aliases:     []string{"m"},
			Usage:       "Search mode (standard, rephrase, multi_query)",
			Value:       string(model.SearchModeStandard),
			Sources:     cli.EnvVars("VIZSLA_SEARCH_MODE"),
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
			Usage:       "Maximum chunks retrieved per turn",
			Value:       8,
			Destination: &topK,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, chunkFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive chat grounded in the indexed corpus",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			searchMode := model.SearchMode(mode)
			if err := searchMode.Validate(); err != nil {
				return err
			}

			pipeline, gemini, err := cfg.newPipeline(ctx)
			if err != nil {
				return err
			}

			session := chat.NewSession(chat.SessionInput{
				Pipeline:       pipeline,
				LLM:            gemini,
				ConversationID: model.ConversationID(convID),
				UserID:         userID,
				Mode:           searchMode,
				Scope:          scope,
				K:              int(topK),
			})

			rl, err := readline.New("> ")
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			fmt.Fprintf(c.Root().Writer, "Chat session started. Type 'exit' to quit.\n")

			for {
				line, err := rl.Readline()
				if err == readline.ErrInterrupt || err == io.EOF {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}
				if line == "exit" {
					break
				}
				if line == "" {
					continue
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				sp.Suffix = " thinking..."
				sp.Start()
				reply, err := session.Send(ctx, line)
				sp.Stop()
				if err != nil {
					return goerr.Wrap(err, "failed to process turn")
				}

				fmt.Fprintf(c.Root().Writer, "%s\n", reply.Text)
				if len(reply.Chunks) > 0 {
					fmt.Fprintf(c.Root().Writer, "\n(%d passages", len(reply.Chunks))
					if reply.NeedsSummarization {
						fmt.Fprintf(c.Root().Writer, ", history compressed")
					}
					fmt.Fprintf(c.Root().Writer, ")\n")
				}
			}

			fmt.Fprintf(c.Root().Writer, "\nConversation: %s\n", session.ConversationID())
			return nil
		},
	}
}
