package server

import (
	"fmt"
	"io"
	"strings"
)

// printBanner は起動時の案内を表示する
func printBanner(w io.Writer, baseURL, root string, pages []string) {
	fmt.Fprintln(w, "✅ Physics Teacher Visuals Server")
	fmt.Fprintf(w, "🌐 Server running at: %s\n", baseURL)
	fmt.Fprintf(w, "📁 Serving files from: %s\n", root)
	fmt.Fprintln(w, "🔓 Frame embedding: ALLOWED")
	fmt.Fprintln(w, "🚀 All pages can now be embedded in frames!")

	if len(pages) > 0 {
		fmt.Fprintln(w, "\n📚 Available pages:")
		for _, p := range pages {
			fmt.Fprintf(w, "   • %s/%s\n", baseURL, strings.TrimPrefix(p, "/"))
		}
	}

	fmt.Fprintln(w, "\n⏹️  Press Ctrl+C to stop the server")
}
