package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `validate:"required"`

	// Root は配信するファイルのルートディレクトリ（絶対パス）
	Root string `validate:"required,dir"`

	// Pages は起動時に表示するページ一覧（ルートからのパス）
	Pages []string `validate:"dive,startswith=/"`

	// Watch が有効な場合、ルート配下の変更をコンソールに通知する
	Watch bool
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `validate:"omitempty,ip|hostname"` // リッスンするホスト
	Port int    `validate:"min=1,max=65535"`       // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `validate:"gte=0"` // 読み込みタイムアウト
	WriteTimeout    time.Duration `validate:"gte=0"` // 書き込みタイムアウト（0は無効）
	ShutdownTimeout time.Duration `validate:"gt=0"`  // グレースフルシャットダウンの猶予
}

// Overrides はコマンドラインから渡される上書き値
// ゼロ値のフィールドは無視される
type Overrides struct {
	ConfigFile string
	Root       string
	Host       string
	Port       int
	Watch      bool
}

// 環境変数名
const (
	EnvHost = "SERVER_HOST"
	EnvPort = "PORT"
	EnvRoot = "PHYSVIS_ROOT"
)

// DefaultPort はデフォルトのリッスンポート
const DefaultPort = 8000

// DefaultPages は起動バナーに表示する教材ページ
var DefaultPages = []string{
	"/",
	"/electrical-charge-illustration.html",
	"/electrical-current-flow.html",
	"/voltage-potential-difference.html",
	"/resistance-enhanced.html",
	"/ohms-law-new.html",
	"/dc-vs-ac.html",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default はデフォルト設定を返す（Rootは未解決）
func Default() *Config {
	pages := make([]string, len(DefaultPages))
	copy(pages, DefaultPages)

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            DefaultPort,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // 大きなファイルの配信を打ち切らないよう無効化
			ShutdownTimeout: 5 * time.Second,
		},
		Pages: pages,
	}
}

// Load は設定を読み込む
//
// 優先順位（後勝ち）: デフォルト値 → 設定ファイル → 環境変数 → コマンドライン
func Load(ov Overrides) (*Config, error) {
	cfg := Default()

	// 明示的に指定された設定ファイル
	if ov.ConfigFile != "" {
		if err := cfg.applyFile(ov.ConfigFile, true); err != nil {
			return nil, err
		}
	}

	// ルートディレクトリの決定
	rootOverride := firstNonEmpty(ov.Root, os.Getenv(EnvRoot), cfg.Root)
	root, err := ResolveRoot(rootOverride)
	if err != nil {
		return nil, err
	}
	cfg.Root = root

	// ルートに置かれた設定ファイル（ルート自体は変更しない）
	if ov.ConfigFile == "" {
		if path, ok := findConfigFile(root); ok {
			if err := cfg.applyFile(path, false); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnv()

	if ov.Host != "" {
		cfg.Server.Host = ov.Host
	}
	if ov.Port != 0 {
		cfg.Server.Port = ov.Port
	}
	if ov.Watch {
		cfg.Watch = true
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BaseURL はブラウザで開くためのURLを返す
func (c *Config) BaseURL() string {
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Server.Port)
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault(EnvHost, c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault(EnvPort, c.Server.Port)
}

// ResolveRoot は配信ルートを絶対パスで返す
// override が空の場合は実行ファイルのあるディレクトリを使う
func ResolveRoot(override string) (string, error) {
	if override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", fmt.Errorf("ルートディレクトリの解決に失敗: %w", err)
		}
		return abs, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("実行ファイルの場所を取得できません: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
