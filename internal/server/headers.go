package server

import (
	"github.com/gin-gonic/gin"
)

// FrameHeaders は全レスポンスに付与するヘッダー
// 任意のオリジンからのiframe埋め込みとクロスオリジンアクセスを許可する
//
// X-Frame-Options の ALLOWALL は規格外の値だが、既存の挙動に合わせてそのまま送る
var FrameHeaders = []struct {
	Name  string
	Value string
}{
	{"X-Frame-Options", "ALLOWALL"},
	{"Content-Security-Policy", "frame-ancestors *"},
	{"Access-Control-Allow-Origin", "*"},
	{"Access-Control-Allow-Methods", "GET, POST, OPTIONS"},
	{"Access-Control-Allow-Headers", "*"},
}

// frameHeaders はハンドラ実行前にヘッダーを設定するミドルウェア
// エラーレスポンスやリダイレクトにも付与される
func frameHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, fh := range FrameHeaders {
			h.Set(fh.Name, fh.Value)
		}
		c.Next()
	}
}
