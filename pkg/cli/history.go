package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"github.com/watarai/vizsla/pkg/model"
)

func historyCommand() *cli.Command {
	var (
		cfg    config
		convID string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "conversation-id",
			Aliases:     []string{"c"},
			Usage:       "Conversation ID to display",
			Required:    true,
			Sources:     cli.EnvVars("VIZSLA_CONVERSATION_ID"),
			Destination: &convID,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "Print the working set of a conversation",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}

			id := model.ConversationID(convID)
			conv, err := repo.Get(ctx, id)
			if err != nil {
				return goerr.Wrap(err, "failed to get conversation", goerr.V("conversation_id", convID))
			}

			messages, err := repo.ListMessages(ctx, id)
			if err != nil {
				return goerr.Wrap(err, "failed to list messages", goerr.V("conversation_id", convID))
			}

			fmt.Fprintf(c.Root().Writer, "Conversation: %s (updated %s)\n\n",
				conv.ID, conv.UpdatedAt.Format("2006-01-02 15:04:05"))

			for _, msg := range messages {
				label := string(msg.Role)
				if msg.IsSummary() {
					label = "summary"
				}
				fmt.Fprintf(c.Root().Writer, "[%s] %s\n%s\n\n",
					label, msg.CreatedAt.Format("2006-01-02 15:04:05"), msg.Content)
			}

			fmt.Fprintf(c.Root().Writer, "%d messages in working set\n", len(messages))
			return nil
		},
	}
}
