package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hitoshi/promptbox/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandCleanup は期限切れセッションの削除を1回実行することを示す。
	CommandCleanup Command = "cleanup"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はpromptboxのルートコマンドを構築する。
// サブコマンドなしで起動した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "promptbox",
		Short:         "Prompt storage API with OAuth login",
		Long:          "promptbox serves an authenticated API for storing and listing prompts.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          withConfig(w, CommandServe, runServe),
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "Start the API server",
			Args:  cobra.NoArgs,
			RunE:  withConfig(w, CommandServe, runServe),
		},
		&cobra.Command{
			Use:   string(CommandMigrate),
			Short: "Apply all pending database migrations",
			Args:  cobra.NoArgs,
			RunE: withConfig(w, CommandMigrate, func(_ context.Context, cfg *config.Config) error {
				return runMigrate(cfg)
			}),
		},
		&cobra.Command{
			Use:   string(CommandCleanup),
			Short: "Delete expired sessions once and exit",
			Args:  cobra.NoArgs,
			RunE:  withConfig(w, CommandCleanup, runCleanup),
		},
		&cobra.Command{
			Use:   string(CommandHealthcheck),
			Short: "Check that the local API server answers /health",
			Long: `Send GET /health to the server on SERVER_PORT (default 3000).
Configuration is not loaded, so the command works inside a minimal container image.`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runHealthcheck(cmd.Context(), healthcheckPort())
			},
		},
	)

	return root
}

// withConfig は設定の読み込みとシグナルハンドリングを行ってからrunを呼び出すRunEを返す。
// SIGINTまたはSIGTERMを受信するとrunに渡したコンテキストがキャンセルされる。
func withConfig(w io.Writer, name Command, run func(context.Context, *config.Config) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := Init(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}

		slog.Info("starting application",
			slog.String("command", string(name)),
			slog.String("port", cfg.ServerPort),
			slog.String("client_url", cfg.ClientURL),
		)

		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg)
	}
}
