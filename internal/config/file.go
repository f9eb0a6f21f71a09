package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ルートディレクトリで探索する設定ファイル名（先に見つかったものを使う）
var configFileNames = []string{"physvis.yaml", "physvis.yml", "physvis.toml"}

// fileConfig は設定ファイルの内容
// 時間は "5s" のような文字列で記述する
type fileConfig struct {
	Server struct {
		Host            string `yaml:"host" toml:"host"`
		Port            int    `yaml:"port" toml:"port"`
		ReadTimeout     string `yaml:"read_timeout" toml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout" toml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	} `yaml:"server" toml:"server"`
	Root  string   `yaml:"root" toml:"root"`
	Pages []string `yaml:"pages" toml:"pages"`
	Watch *bool    `yaml:"watch" toml:"watch"`
}

// findConfigFile はルートディレクトリ直下の設定ファイルを探す
func findConfigFile(root string) (string, bool) {
	for _, name := range configFileNames {
		path := filepath.Join(root, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// parseConfigFile は拡張子に応じてYAMLまたはTOMLとして読み込む
func parseConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("YAMLの解析に失敗 (%s): %w", path, err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fc); err != nil {
			return nil, fmt.Errorf("TOMLの解析に失敗 (%s): %w", path, err)
		}
	default:
		return nil, fmt.Errorf("未対応の設定ファイル形式: %q", ext)
	}
	return &fc, nil
}

// applyFile は設定ファイルの値を反映する
// allowRoot が false の場合、ファイル内の root は無視する
func (c *Config) applyFile(path string, allowRoot bool) error {
	fc, err := parseConfigFile(path)
	if err != nil {
		return err
	}

	if fc.Server.Host != "" {
		c.Server.Host = fc.Server.Host
	}
	if fc.Server.Port != 0 {
		c.Server.Port = fc.Server.Port
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"server.read_timeout", fc.Server.ReadTimeout, &c.Server.ReadTimeout},
		{"server.write_timeout", fc.Server.WriteTimeout, &c.Server.WriteTimeout},
		{"server.shutdown_timeout", fc.Server.ShutdownTimeout, &c.Server.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s の値が不正です (%s): %w", d.key, path, err)
		}
		*d.dst = v
	}

	if len(fc.Pages) > 0 {
		c.Pages = fc.Pages
	}
	if fc.Watch != nil {
		c.Watch = *fc.Watch
	}

	// 相対パスの root は設定ファイルの場所を基準にする
	if allowRoot && fc.Root != "" {
		root := fc.Root
		if !filepath.IsAbs(root) {
			root = filepath.Join(filepath.Dir(path), root)
		}
		c.Root = root
	}

	return nil
}
