// Package watcher は配信ルート配下のファイル変更を検知する。
//
// 教材ページを編集しながらプレビューする際、どのファイルが更新されたかを
// コンソールに知らせるために使う。ファイルへの書き込みは一切行わない。
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// 監視しないディレクトリ
var ignoreDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	".idea":        true,
	".vscode":      true,
	"__pycache__":  true,
}

// 通知しないファイル（エディタの一時ファイルなど）
var ignoreSuffixes = []string{
	".DS_Store",
	".swp",
	".swx",
	"~",
	".tmp",
}

// 同じファイルへの連続したイベントをまとめる間隔
const debounceInterval = 50 * time.Millisecond

// Watcher はfsnotifyを使ってディレクトリを再帰的に監視する
type Watcher struct {
	fw      *fsnotify.Watcher
	done    chan struct{}
	stopped bool
	mu      sync.Mutex
}

// New は新しい Watcher を作成する
func New() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fw:   fw,
		done: make(chan struct{}),
	}, nil
}

// Watch は root 以下の監視を開始する
// onChange は変更されたファイルの絶対パスを受け取り、任意のゴルーチンから呼ばれる
func (w *Watcher) Watch(root string, onChange func(path string)) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	err = filepath.WalkDir(absRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // 読めないパスは飛ばす
		}
		if !d.IsDir() {
			return nil
		}
		if path != absRoot && ignoreDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
	if err != nil {
		return err
	}

	go w.loop(onChange)
	return nil
}

func (w *Watcher) loop(onChange func(path string)) {
	last := make(map[string]time.Time)

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			path := event.Name

			// 新しく作られたディレクトリも監視対象に加える
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(path); err == nil && info.IsDir() && !ignoreDirs[info.Name()] {
					_ = w.fw.Add(path)
				}
			}

			if shouldIgnore(path) {
				continue
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
				continue
			}

			now := time.Now()
			if t, seen := last[path]; seen && now.Sub(t) < debounceInterval {
				continue
			}
			last[path] = now

			onChange(path)

		case _, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			// fsnotifyは自動で復帰するのでエラーは読み捨てる

		case <-w.done:
			return
		}
	}
}

// Stop は監視を終了する。複数回呼んでも安全
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.done)
	return w.fw.Close()
}

// shouldIgnore は通知対象外のパスかを返す
func shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, suffix := range ignoreSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if ignoreDirs[part] {
			return true
		}
	}
	return false
}
