package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/PaulBabatuyi/nearchat/internal/backend"
	"github.com/PaulBabatuyi/nearchat/internal/config"
	"github.com/PaulBabatuyi/nearchat/internal/logging"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "chatctl",
		Short:        "Operate a nearchat messaging backend",
		Long:         "chatctl inspects and edits conversations, threads and profiles directly in the configured store.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (environment variables still apply)")

	open := func(cmd *cobra.Command) (*session, error) {
		return openSession(cmd.Context(), configPath, cmd.ErrOrStderr())
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newMigrateCmd(open))
	cmd.AddCommand(newConversationsCmd(open))
	cmd.AddCommand(newThreadCmd(open))
	cmd.AddCommand(newSendCmd(open))
	cmd.AddCommand(newNearbyCmd(open))
	cmd.AddCommand(newProfileCmd(open))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatctl %s (commit: %s)\n", Version, Commit)
		},
	}
}

// session is an open backend plus the config it was built from.
type session struct {
	cfg *config.Config
	be  *backend.Backend
	log *slog.Logger
}

type opener func(cmd *cobra.Command) (*session, error)

func openSession(ctx context.Context, configPath string, logOut io.Writer) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, logOut)
	be, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, be: be, log: log}, nil
}

func (s *session) Close() {
	_ = s.be.Close(context.Background())
}

func execute(cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
