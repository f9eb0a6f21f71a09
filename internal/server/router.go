package server

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Handler は配信ルートに対するHTTPハンドラ
//
// ミドルウェアの順序: リクエストログ → panic回復 → ヘッダー付与 → 各ハンドラ
type Handler struct {
	engine   *gin.Engine
	root     *os.Root
	rootDir  string
	rootReal string
	logger   *log.Logger
}

// NewHandler は rootDir を配信する Handler を作成する
// ログとpanicのスタックトレースは out に書き出す
func NewHandler(rootDir string, out io.Writer) (*Handler, error) {
	root, err := os.OpenRoot(rootDir)
	if err != nil {
		return nil, fmt.Errorf("ルートディレクトリを開けません: %w", err)
	}

	rootReal, err := filepath.EvalSymlinks(rootDir)
	if err != nil {
		root.Close()
		return nil, fmt.Errorf("ルートディレクトリの解決に失敗: %w", err)
	}

	h := &Handler{
		root:     root,
		rootDir:  rootDir,
		rootReal: rootReal,
		logger:   log.New(out, "", log.LstdFlags),
	}
	h.engine = h.newEngine(out)
	return h, nil
}

// newEngine はルーティングを設定したginエンジンを作成する
func (h *Handler) newEngine(out io.Writer) *gin.Engine {
	engine := gin.New()

	// パスの補正やリダイレクトは静的ファイルの解決側で行う
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false
	engine.HandleMethodNotAllowed = false

	// クライアントアドレスは常に接続元を使う
	_ = engine.SetTrustedProxies(nil)

	engine.Use(requestLogger(out), recovery(out), frameHeaders())

	engine.GET("/favicon.ico", h.handleFavicon)
	engine.HEAD("/favicon.ico", h.handleFavicon)
	engine.NoRoute(h.handleStatic)

	return engine
}

// ServeHTTP は http.Handler の実装
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.engine.ServeHTTP(w, r)
}

// Close はルートディレクトリのハンドルを解放する
func (h *Handler) Close() error {
	return h.root.Close()
}
