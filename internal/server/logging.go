package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// formatRequestLog はリクエストごとのログ行を組み立てる
//
//	[Server] 127.0.0.1 - "GET /index.html HTTP/1.1" - 200 OK
func formatRequestLog(p gin.LogFormatterParams) string {
	uri := p.Path
	proto := "HTTP/1.1"
	if p.Request != nil {
		if p.Request.RequestURI != "" {
			uri = p.Request.RequestURI
		}
		proto = p.Request.Proto
	}
	return fmt.Sprintf("[Server] %s - \"%s %s %s\" - %d %s\n",
		p.ClientIP, p.Method, uri, proto, p.StatusCode, http.StatusText(p.StatusCode))
}

// requestLogger はリクエストログを out に書き出すミドルウェア
func requestLogger(out io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: formatRequestLog,
		Output:    out,
	})
}

// recovery はハンドラ内のpanicをそのリクエストだけに閉じ込める
// スタックトレースは out に出力し、クライアントには500を返す
func recovery(out io.Writer) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(out, func(c *gin.Context, err any) {
		respondError(c, http.StatusInternalServerError)
	})
}

// respondError はステータスコードに対応する短い本文を返す
func respondError(c *gin.Context, status int) {
	c.String(status, "%d %s\n", status, http.StatusText(status))
}
