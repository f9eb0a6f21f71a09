package server

import (
	"embed"
	"html/template"
)

//go:embed templates/listing.html
var templateFS embed.FS

// listingTemplate はインデックスファイルのないディレクトリの一覧ページ
var listingTemplate = template.Must(template.ParseFS(templateFS, "templates/listing.html"))
