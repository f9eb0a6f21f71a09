// physvis は教材ページをプレビューするための静的ファイルサーバーです。
// 任意のオリジンからのiframe埋め込みとクロスオリジンアクセスを許可します。
package main

import (
	"context"
	"log"
	"os"

	"physvis/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		log.Printf("エラー: %v", err)
		os.Exit(1)
	}
}
