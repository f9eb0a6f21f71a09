// Package cmd は physvis コマンドの実装です
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"physvis/internal/config"
	"physvis/internal/server"
)

// コマンドラインオプション
var overrides config.Overrides

var rootCmd = &cobra.Command{
	Use:   "physvis",
	Short: "教材ページをiframe埋め込み可能な状態で配信するローカルサーバー",
	Long: "実行ファイルのあるディレクトリ（または --root）以下の静的ファイルを配信します。\n" +
		"全レスポンスに X-Frame-Options / Content-Security-Policy / CORS ヘッダーを付与します。",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&overrides.Host, "host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	flags.IntVarP(&overrides.Port, "port", "p", 0, fmt.Sprintf("サーバーのポート (デフォルト: %d)", config.DefaultPort))
	flags.StringVar(&overrides.Root, "root", "", "配信するディレクトリ (デフォルト: 実行ファイルのあるディレクトリ)")
	flags.StringVarP(&overrides.ConfigFile, "config", "c", "", "設定ファイル (.yaml / .yml / .toml)")
	flags.BoolVarP(&overrides.Watch, "watch", "w", false, "ファイルの変更をコンソールに表示する")
}

// Execute はルートコマンドを実行する
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// signalContext は SIGINT / SIGTERM でキャンセルされるコンテキストを返す
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServer(cmd *cobra.Command, args []string) error {
	// 起動処理中の Ctrl+C でも正常終了できるよう最初に登録する
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	// 設定を読み込む
	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}

	// サーバーを作成
	srv, err := server.New(cfg, server.WithOutput(cmd.OutOrStdout()))
	if err != nil {
		return fmt.Errorf("サーバーの作成に失敗しました: %w", err)
	}

	// ポートが使用中ならここで終了する
	if err := srv.Listen(); err != nil {
		_ = srv.Shutdown()
		return fmt.Errorf("サーバーの起動に失敗しました: %w", err)
	}

	// シグナルまたはコンテキストのキャンセルまでブロックする
	return srv.Start(ctx)
}
