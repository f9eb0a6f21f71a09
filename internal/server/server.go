package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"physvis/internal/config"
	"physvis/internal/watcher"
)

// ErrAlreadyListening は Listen が二度呼ばれた場合のエラー
var ErrAlreadyListening = errors.New("サーバーはすでにリッスンしています")

// デフォルトのシャットダウン猶予
const defaultShutdownTimeout = 5 * time.Second

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	handler    *Handler
	httpServer *http.Server
	listener   net.Listener
	watcher    *watcher.Watcher
	out        io.Writer
	logger     *log.Logger

	mu       sync.Mutex
	stopOnce sync.Once
	stopErr  error
}

// Option は Server の生成オプション
type Option func(*Server)

// WithOutput はバナーとリクエストログの出力先を指定する（デフォルト: 標準出力）
func WithOutput(w io.Writer) Option {
	return func(s *Server) {
		s.out = w
	}
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		config: cfg,
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.New(s.out, "", log.LstdFlags)

	handler, err := NewHandler(cfg.Root, s.out)
	if err != nil {
		return nil, err
	}
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     s.logger,
		// "OPTIONS *" もginに渡して501と埋め込み許可ヘッダーを返す
		DisableGeneralOptionsHandler: true,
	}
	return s, nil
}

// Listen はポートをバインドする
// ポートが使用中の場合は別のポートを試さずにエラーを返す
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrAlreadyListening
	}

	addr := s.config.ServerAddress()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s をリッスンできません: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Addr はバインドしたアドレスを返す（Listen 前は nil）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL はブラウザで開くためのベースURLを返す
// ポート0を指定した場合も実際にバインドしたポートを使う
func (s *Server) URL() string {
	base := s.config.BaseURL()
	addr, ok := s.Addr().(*net.TCPAddr)
	if !ok {
		return base
	}
	cfg := *s.config
	cfg.Server.Port = addr.Port
	return cfg.BaseURL()
}

// Start はサーバーを起動し、コンテキストのキャンセルかシグナルを受けるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	printBanner(s.out, s.URL(), s.config.Root, s.config.Pages)

	if s.config.Watch {
		s.startWatcher()
	}

	// シャットダウン用のチャンネル
	serveCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveCh <- fmt.Errorf("サーバーの実行に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
	case <-sigCh:
	case err := <-serveCh:
		_ = s.Shutdown()
		return err
	}

	fmt.Fprintln(s.out, "\n🛑 Server stopped by user")

	// グレースフルシャットダウン
	return s.Shutdown()
}

// startWatcher はルート配下の変更通知を開始する
// 監視に失敗してもファイル配信は続ける
func (s *Server) startWatcher() {
	w, err := watcher.New()
	if err != nil {
		s.logger.Printf("ファイル監視を開始できません: %v", err)
		return
	}

	root := s.config.Root
	err = w.Watch(root, func(path string) {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		fmt.Fprintf(s.out, "[Watch] %s changed\n", filepath.ToSlash(rel))
	})
	if err != nil {
		_ = w.Stop()
		s.logger.Printf("ファイル監視を開始できません: %v", err)
		return
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
}

// Shutdown はサーバーをグレースフルにシャットダウンする。複数回呼んでも安全
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() {
		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if err := s.httpServer.Shutdown(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				// 猶予内に終わらない転送は打ち切る。停止自体は正常終了として扱う
				s.logger.Printf("シャットダウンの猶予 %s を超えたため残りの接続を切断します", timeout)
				_ = s.httpServer.Close()
			} else {
				errs = append(errs, fmt.Errorf("サーバーのシャットダウンに失敗: %w", err))
			}
		}

		s.mu.Lock()
		w := s.watcher
		ln := s.listener
		s.mu.Unlock()

		// Serve前にShutdownされた場合もポートを解放する
		if ln != nil {
			_ = ln.Close()
		}
		if w != nil {
			if err := w.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("ファイル監視の停止に失敗: %w", err))
			}
		}

		if err := s.handler.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ルートディレクトリのクローズに失敗: %w", err))
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}
