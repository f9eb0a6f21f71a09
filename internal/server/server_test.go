package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"physvis/internal/config"
)

// syncBuffer は複数のゴルーチンから書き込まれる出力先
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newTestConfig はランダムポートで待ち受けるテスト用の設定を作成する
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Root = t.TempDir()
	return cfg
}

// startServer はサーバーを別ゴルーチンで起動し、停止用の関数とエラーチャンネルを返す
func startServer(t *testing.T, cfg *config.Config, out io.Writer) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()

	srv, err := New(cfg, WithOutput(out))
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = srv.Shutdown()
	})
	return srv, cancel, errCh
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "ohms-law-new.html"), []byte("<p>V=IR</p>"), 0o644))
	out := &syncBuffer{}

	srv, cancel, errCh := startServer(t, cfg, out)

	resp, err := http.Get(srv.URL() + "/ohms-law-new.html")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<p>V=IR</p>", string(body))
	assertFrameHeaders(t, resp.Header)

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}

	output := out.String()
	assert.Contains(t, output, "✅ Physics Teacher Visuals Server")
	assert.Contains(t, output, "📁 Serving files from: "+cfg.Root)
	assert.Contains(t, output, `"GET /ohms-law-new.html HTTP/1.1" - 200 OK`)
	assert.Contains(t, output, "🛑 Server stopped by user")

	// 停止後は接続できない
	client := &http.Client{Timeout: time.Second}
	_, err = client.Get(srv.URL() + "/ohms-law-new.html")
	assert.Error(t, err)
}

// TestServerEndpoints は実際の接続越しのレスポンスをテストする
func TestServerEndpoints(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "index.html"), []byte("home"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "some file with spaces.html"), []byte("spaces"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "favicon.ico"), []byte("icon"), 0o644))

	srv, _, _ := startServer(t, cfg, io.Discard)
	baseURL := srv.URL()

	testCases := []struct {
		name           string
		method         string
		endpoint       string
		expectedStatus int
	}{
		{"ルート", http.MethodGet, "/", http.StatusOK},
		{"スペースを含むファイル名", http.MethodGet, "/some%20file%20with%20spaces.html", http.StatusOK},
		{"favicon", http.MethodGet, "/favicon.ico", http.StatusNotFound},
		{"存在しないページ", http.MethodGet, "/nonexistent.html", http.StatusNotFound},
		{"ルート外", http.MethodGet, "/../../etc/passwd", http.StatusNotFound},
		{"POST", http.MethodPost, "/index.html", http.StatusNotImplemented},
		{"OPTIONS", http.MethodOptions, "/index.html", http.StatusNotImplemented},
	}

	// 同じ接続を使い回してもエラー後に処理が続くことを確認する
	client := &http.Client{Timeout: 2 * time.Second}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, baseURL+tc.endpoint, nil)
			require.NoError(t, err)

			resp, err := client.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.expectedStatus, resp.StatusCode)
			assertFrameHeaders(t, resp.Header)
		})
	}
}

// TestServerOptionsAsterisk は "OPTIONS *" にも501とヘッダーが付くことをテストする
func TestServerOptionsAsterisk(t *testing.T) {
	cfg := newTestConfig(t)
	out := &syncBuffer{}
	srv, _, _ := startServer(t, cfg, out)

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(3*time.Second)))

	_, err = io.WriteString(conn, "OPTIONS * HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	assertFrameHeaders(t, resp.Header)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"OPTIONS * HTTP/1.1" - 501`)
	}, 2*time.Second, 10*time.Millisecond)
}

// TestShutdownForcesSlowClients は猶予を超えた転送を切断して正常終了することをテストする
func TestShutdownForcesSlowClients(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.ShutdownTimeout = 300 * time.Millisecond
	large := bytes.Repeat([]byte("x"), 64<<20)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "large.bin"), large, 0o644))
	out := &syncBuffer{}

	srv, cancel, errCh := startServer(t, cfg, out)

	// 本文を読まないクライアント
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "GET /large.bin HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.NoError(t, err)

	// ハンドラーが書き込みで詰まるまで待つ
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
	assert.Contains(t, out.String(), "残りの接続を切断します")
}

// TestListenPortInUse は使用中のポートで即座に失敗することをテストする
func TestListenPortInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := newTestConfig(t)
	cfg.Server.Port = occupied.Addr().(*net.TCPAddr).Port

	srv, err := New(cfg, WithOutput(io.Discard))
	require.NoError(t, err)
	defer srv.Shutdown()

	err = srv.Listen()
	require.Error(t, err)
	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr), "net.OpError を含むはずです: %v", err)
	assert.Contains(t, err.Error(), fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port))

	// Start も待たずにエラーを返す
	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("使用中のポートでStartがブロックしました")
	}
}

// TestSecondInstanceFails は同じポートで2つ目のサーバーが起動できないことをテストする
func TestSecondInstanceFails(t *testing.T) {
	cfg := newTestConfig(t)
	first, _, _ := startServer(t, cfg, io.Discard)

	second := *cfg
	second.Server.Port = first.Addr().(*net.TCPAddr).Port

	srv, err := New(&second, WithOutput(io.Discard))
	require.NoError(t, err)
	defer srv.Shutdown()

	assert.Error(t, srv.Listen())
}

// TestListenTwice は二重のListenがエラーになることをテストする
func TestListenTwice(t *testing.T) {
	srv, err := New(newTestConfig(t), WithOutput(io.Discard))
	require.NoError(t, err)
	defer srv.Shutdown()

	require.NoError(t, srv.Listen())
	assert.ErrorIs(t, srv.Listen(), ErrAlreadyListening)
}

// TestShutdownWithoutServe はServe前のShutdownでポートが解放されることをテストする
func TestShutdownWithoutServe(t *testing.T) {
	srv, err := New(newTestConfig(t), WithOutput(io.Discard))
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	addr := srv.Addr().String()

	require.NoError(t, srv.Shutdown())
	require.NoError(t, srv.Shutdown())

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	ln.Close()
}

// TestNewMissingRoot は存在しないルートでエラーになることをテストする
func TestNewMissingRoot(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Root = filepath.Join(cfg.Root, "missing")

	_, err := New(cfg)
	assert.Error(t, err)
}

// TestWatchNotices はファイル変更がコンソールに通知されることをテストする
func TestWatchNotices(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Watch = true
	out := &syncBuffer{}

	startServer(t, cfg, out)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Press Ctrl+C")
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "dc-vs-ac.html"), []byte("ac"), 0o644))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[Watch] dc-vs-ac.html changed")
	}, 3*time.Second, 20*time.Millisecond)
}

// TestPrintBanner は起動時の案内をテストする
func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	printBanner(&buf, "http://localhost:8000", "/srv/visuals", config.DefaultPages)

	output := buf.String()
	assert.Contains(t, output, "🌐 Server running at: http://localhost:8000")
	assert.Contains(t, output, "📁 Serving files from: /srv/visuals")
	assert.Contains(t, output, "🔓 Frame embedding: ALLOWED")
	assert.Contains(t, output, "   • http://localhost:8000/\n")
	assert.Contains(t, output, "   • http://localhost:8000/dc-vs-ac.html\n")
	assert.Contains(t, output, "Press Ctrl+C to stop the server")
}

// TestRecoveryKeepsHeaders はpanicが500になりヘッダーが付くことをテストする
func TestRecoveryKeepsHeaders(t *testing.T) {
	out := &bytes.Buffer{}
	engine := gin.New()
	engine.Use(requestLogger(out), recovery(out), frameHeaders())
	engine.GET("/boom", func(c *gin.Context) {
		panic("boom")
	})
	engine.GET("/ok", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	rec := do(engine, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assertFrameHeaders(t, rec.Header())
	assert.Contains(t, out.String(), `"GET /boom HTTP/1.1" - 500 Internal Server Error`)

	// 後続のリクエストは影響を受けない
	rec = do(engine, http.MethodGet, "/ok")
	assert.Equal(t, http.StatusOK, rec.Code)
}
