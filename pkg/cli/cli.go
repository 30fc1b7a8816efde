package cli

import (
	"context"

	"github.com/urfave/cli/v3"
	"github.com/watarai/vizsla/pkg/utils/logging"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "vizsla",
		Usage: "Retrieval-augmented chat over an indexed document corpus",
		Commands: []*cli.Command{
			chatCommand(),
			askCommand(),
			ingestCommand(),
			historyCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
