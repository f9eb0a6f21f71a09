// Package server は、教材ページを配信する静的ファイルHTTPサーバーを提供します。
//
// このパッケージは、ルートディレクトリ配下のファイル配信、
// iframe埋め込みとCORSを許可するヘッダーの付与、リクエストログの出力、
// サーバーの起動とグレースフルシャットダウンを担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理（ポート使用中は即座にエラー）
//   - 全レスポンスへの X-Frame-Options / CSP / CORS ヘッダーの付与
//   - /favicon.ico への本文なし404
//   - パーセントエンコードされたパスのデコードとルート外へのアクセス拒否
//   - インデックスファイルのないディレクトリの一覧表示
//
// 仕様:
//   - ルーティングとミドルウェアは gin を使用
//   - ルート外へのアクセスは os.Root で防ぐ（シンボリックリンク経由も含む）
//   - GET/HEAD 以外のメソッドは 501 を返す
//   - 1リクエストで発生したpanicは500として処理し、サーバーは停止しない
package server
