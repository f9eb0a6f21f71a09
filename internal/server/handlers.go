package server

import (
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// ディレクトリで優先して返すインデックスファイル
var indexFiles = []string{"index.html", "index.htm"}

// handleFavicon はファイルの有無に関わらず本文なしの404を返す
// ブラウザが自動で要求するfaviconでエラー表示が出ないようにする
func (h *Handler) handleFavicon(c *gin.Context) {
	c.Status(http.StatusNotFound)
}

// handleStatic はリクエストパスをルート配下のファイルに対応付けて返す
func (h *Handler) handleStatic(c *gin.Context) {
	r := c.Request
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		c.String(http.StatusNotImplemented, "Unsupported method (%q)\n", r.Method)
		return
	}

	// net/http がデコード済みのパス（"%20" は空白になっている）
	name := r.URL.Path
	cleaned := relativePath(name)

	rel, info, err := h.stat(cleaned)
	if err != nil {
		h.fail(c, rel, err)
		return
	}

	trailingSlash := strings.HasSuffix(name, "/")

	if info.IsDir() {
		if !trailingSlash {
			// 相対リンクが正しく解決されるようスラッシュ付きへ誘導する
			// 正規化したパスから組み立てるので "//host" 形式の転送先にはならない
			target := redirectPath(cleaned)
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			c.Redirect(http.StatusMovedPermanently, target)
			return
		}
		h.serveDirectory(c, rel, name)
		return
	}

	if trailingSlash || !info.Mode().IsRegular() {
		respondError(c, http.StatusNotFound)
		return
	}

	h.serveFile(c, rel, info)
}

// serveDirectory はインデックスファイルがあればそれを返し、なければ一覧を返す
func (h *Handler) serveDirectory(c *gin.Context, rel, displayPath string) {
	for _, index := range indexFiles {
		if indexRel, info, err := h.stat(path.Join(rel, index)); err == nil && info.Mode().IsRegular() {
			h.serveFile(c, indexRel, info)
			return
		}
	}

	entries, err := h.listEntries(rel)
	if err != nil {
		h.fail(c, rel, err)
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if c.Request.Method == http.MethodHead {
		return
	}
	if err := listingTemplate.Execute(c.Writer, listing{Path: displayPath, Entries: entries}); err != nil {
		h.logger.Printf("ディレクトリ一覧の出力に失敗: %s: %v", displayPath, err)
	}
}

// serveFile はファイルの内容を返す
// 範囲指定や条件付きGETは http.ServeContent に任せる
func (h *Handler) serveFile(c *gin.Context, rel string, info fs.FileInfo) {
	f, err := h.root.Open(filepath.FromSlash(rel))
	if err != nil {
		h.fail(c, rel, err)
		return
	}
	defer f.Close()

	ctype, err := contentType(info.Name(), f)
	if err != nil {
		h.fail(c, rel, err)
		return
	}
	c.Header("Content-Type", ctype)

	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

// stat はルートからの相対パスの情報を返す
//
// os.Root はルート内を絶対パスで指すシンボリックリンクも拒否するため、
// その場合はリンクを解決した相対パスで引き直す
func (h *Handler) stat(rel string) (string, fs.FileInfo, error) {
	info, err := h.root.Stat(filepath.FromSlash(rel))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return rel, info, err
	}

	resolved, ok := h.resolve(rel)
	if !ok {
		return rel, nil, err
	}
	info, rerr := h.root.Stat(filepath.FromSlash(resolved))
	if rerr != nil {
		return rel, nil, err
	}
	return resolved, info, nil
}

// fail はファイルシステムのエラーをレスポンスに変換する
//
// 存在しないパスとルート外を指すパスは404、それ以外は500とする
func (h *Handler) fail(c *gin.Context, rel string, err error) {
	if _, ok := h.resolve(rel); errors.Is(err, fs.ErrNotExist) || !ok {
		respondError(c, http.StatusNotFound)
		return
	}
	h.logger.Printf("ファイルの読み込みに失敗: %s: %v", rel, err)
	respondError(c, http.StatusInternalServerError)
}

// resolve はシンボリックリンクを解決し、ルート配下に収まればその相対パスを返す
func (h *Handler) resolve(rel string) (string, bool) {
	resolved, err := filepath.EvalSymlinks(filepath.Join(h.rootDir, filepath.FromSlash(rel)))
	if err != nil {
		return "", false
	}
	r, err := filepath.Rel(h.rootReal, resolved)
	if err != nil || !filepath.IsLocal(r) {
		return "", false
	}
	return filepath.ToSlash(r), true
}

// listEntries はディレクトリ内のエントリを大文字小文字を区別せずに並べる
func (h *Handler) listEntries(rel string) ([]listingEntry, error) {
	dir, err := h.root.Open(filepath.FromSlash(rel))
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	dirEntries, err := dir.ReadDir(-1)
	if err != nil {
		return nil, err
	}

	entries := make([]listingEntry, 0, len(dirEntries))
	for _, e := range dirEntries {
		name := e.Name()
		isDir := e.IsDir()
		isLink := e.Type()&fs.ModeSymlink != 0
		if isLink {
			if _, info, err := h.stat(path.Join(rel, name)); err == nil {
				isDir = info.IsDir()
			}
		}
		entries = append(entries, newListingEntry(name, isDir, isLink))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].sortKey) < strings.ToLower(entries[j].sortKey)
	})
	return entries, nil
}

// listing はディレクトリ一覧テンプレートに渡す値
type listing struct {
	Path    string
	Entries []listingEntry
}

// listingEntry は一覧の1行
type listingEntry struct {
	Name    string // 表示名（ディレクトリは "/"、リンクは "@" を付ける）
	Link    string // パーセントエンコード済みの相対リンク
	sortKey string
}

func newListingEntry(name string, isDir, isLink bool) listingEntry {
	display, link := name, name
	if isDir {
		display += "/"
		link += "/"
	}
	if isLink {
		display = name + "@"
	}
	return listingEntry{
		Name:    display,
		Link:    (&url.URL{Path: link}).String(),
		sortKey: name,
	}
}

// redirectPath はルートからの相対パスを末尾スラッシュ付きのエスケープ済みパスにする
// 例: "some dir" → "/some%20dir/"
func redirectPath(rel string) string {
	if rel == "." {
		return "/"
	}
	return (&url.URL{Path: "/" + rel + "/"}).EscapedPath()
}

// relativePath はデコード済みのパスを正規化し、ルートからの相対パスにする
// ".." はルートより上に出ないよう path.Clean で畳み込まれる
func relativePath(name string) string {
	cleaned := path.Clean("/" + name)
	rel := strings.TrimPrefix(cleaned, "/")
	if rel == "" {
		return "."
	}
	return rel
}

// contentType は拡張子からContent-Typeを決める
// 拡張子で判定できない場合は先頭のバイト列から推定する
func contentType(name string, f io.ReadSeeker) (string, error) {
	if ctype := mime.TypeByExtension(filepath.Ext(name)); ctype != "" {
		return ctype, nil
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return mt.String(), nil
}
