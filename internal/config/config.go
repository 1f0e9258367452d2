package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fluxbase-eu/fluxassets/internal/observability"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the pipeline configuration
type Config struct {
	Assets      AssetsConfig               `mapstructure:"assets"`
	Esbuild     EsbuildConfig              `mapstructure:"esbuild"`
	Tailwind    TailwindConfig             `mapstructure:"tailwind"`
	LiveReload  LiveReloadConfig           `mapstructure:"livereload"`
	CDN         CDNConfig                  `mapstructure:"cdn"`
	Publish     PublishConfig              `mapstructure:"publish"`
	CacheWorker CacheWorkerConfig          `mapstructure:"cache_worker"`
	Server      ServerConfig               `mapstructure:"server"`
	Metrics     MetricsConfig              `mapstructure:"metrics"`
	Tracing     observability.TracerConfig `mapstructure:"tracing"`
	BaseURL     string                     `mapstructure:"base_url"`
	Debug       bool                       `mapstructure:"debug"`
}

// AssetsConfig describes where sources live and how outputs are published
type AssetsConfig struct {
	Folder                string              `mapstructure:"folder"`
	StaticFolder          string              `mapstructure:"static_folder"`
	StaticURLPath         string              `mapstructure:"static_url_path"`
	URLPath               string              `mapstructure:"url_path"`
	OutputFolder          string              `mapstructure:"output_folder"`
	OutputURL             string              `mapstructure:"output_url"`
	MappingFile           string              `mapstructure:"mapping_file"`
	Bundles               map[string][]string `mapstructure:"bundles"`
	Include               []string            `mapstructure:"include"`
	Inline                bool                `mapstructure:"inline"`
	IncludeInlineOnDemand bool                `mapstructure:"include_inline_on_demand"`
	ImportMap             map[string]string   `mapstructure:"import_map"`
	ExposeNodePackages    []string            `mapstructure:"expose_node_packages"`
	Stamp                 bool                `mapstructure:"stamp"`
	NodeModulesPath       string              `mapstructure:"node_modules_path"`
	CopyFromNodeModules   map[string]string   `mapstructure:"copy_files_from_node_modules"`
	TemplateFolders       []string            `mapstructure:"template_folders"`
}

// SeparateFolder reports whether sources live outside the static folder
func (a *AssetsConfig) SeparateFolder() bool {
	return filepath.Clean(a.Folder) != filepath.Clean(a.StaticFolder)
}

// EsbuildConfig contains bundler settings
type EsbuildConfig struct {
	Mode          string            `mapstructure:"mode"` // "binary" or "api"
	Bin           []string          `mapstructure:"bin"`
	Script        string            `mapstructure:"script"`
	Args          []string          `mapstructure:"args"`
	Splitting     bool              `mapstructure:"splitting"`
	Target        []string          `mapstructure:"target"`
	Aliases       map[string]string `mapstructure:"aliases"`
	External      []string          `mapstructure:"external"`
	CacheMetafile bool              `mapstructure:"cache_metafile"`
	Metafile      string            `mapstructure:"metafile"`
}

// TailwindConfig contains CSS generator settings
type TailwindConfig struct {
	Input            string   `mapstructure:"input"`
	Bin              []string `mapstructure:"bin"`
	Args             []string `mapstructure:"args"`
	SuggestedContent []string `mapstructure:"suggested_content"`
	Sources          []string `mapstructure:"sources"`
	ExpandEnv        bool     `mapstructure:"expand_env"`
}

// Enabled reports whether a tailwind input is configured
func (t *TailwindConfig) Enabled() bool {
	return t.Input != ""
}

// LiveReloadConfig contains dev-mode reload settings
type LiveReloadConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Backend  string `mapstructure:"backend"` // "local" or "redis"
	RedisURL string `mapstructure:"redis_url"`
	Channel  string `mapstructure:"channel"`
}

// CDNConfig contains CDN rewrite settings
type CDNConfig struct {
	Host    string `mapstructure:"host"`
	Enabled bool   `mapstructure:"enabled"`
}

// PublishConfig contains S3-compatible upload settings
type PublishConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// CacheWorkerConfig contains service worker settings
type CacheWorkerConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Filename string   `mapstructure:"filename"`
	Name     string   `mapstructure:"name"`
	URLs     []string `mapstructure:"urls"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address       string        `mapstructure:"address"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	RouteTemplate string        `mapstructure:"route_template"`
	Routes        []string      `mapstructure:"routes"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables. An empty
// configFile searches the default locations.
func Load(configFile string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("fluxassets")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/fluxassets")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FLUXASSETS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Debug().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.applyDerived(viper.IsSet("esbuild.cache_metafile"), viper.IsSet("cdn.enabled"))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Debug().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults() {
	// Assets defaults
	viper.SetDefault("assets.folder", "static")
	viper.SetDefault("assets.static_folder", "static")
	viper.SetDefault("assets.static_url_path", "/static")
	viper.SetDefault("assets.url_path", "/static/assets")
	viper.SetDefault("assets.mapping_file", "assets.json")
	viper.SetDefault("assets.stamp", true)
	viper.SetDefault("assets.inline", false)
	viper.SetDefault("assets.include_inline_on_demand", false)
	viper.SetDefault("assets.template_folders", []string{"templates"})
	nodeModules := os.Getenv("NODE_PATH")
	if nodeModules == "" {
		nodeModules = "node_modules"
	}
	viper.SetDefault("assets.node_modules_path", nodeModules)

	// Esbuild defaults
	viper.SetDefault("esbuild.mode", "binary")
	viper.SetDefault("esbuild.bin", []string{"npx", "esbuild"})
	viper.SetDefault("esbuild.splitting", true)
	viper.SetDefault("esbuild.metafile", ".esbuild-metafile.json")

	// Tailwind defaults
	viper.SetDefault("tailwind.bin", []string{"npx", "tailwindcss"})
	viper.SetDefault("tailwind.expand_env", true)

	// Live reload defaults
	viper.SetDefault("livereload.host", "localhost")
	viper.SetDefault("livereload.port", 7878)
	viper.SetDefault("livereload.backend", "local")
	viper.SetDefault("livereload.channel", "fluxassets:livereload")

	// Publish defaults
	viper.SetDefault("publish.region", "us-east-1")
	viper.SetDefault("publish.use_ssl", true)

	// Cache worker defaults
	viper.SetDefault("cache_worker.enabled", false)
	viper.SetDefault("cache_worker.filename", "cache-worker.js")

	// Server defaults
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.route_template", "frontend_route.html")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.path", "/metrics")

	// Tracing defaults
	tracing := observability.DefaultTracerConfig()
	viper.SetDefault("tracing.enabled", tracing.Enabled)
	viper.SetDefault("tracing.endpoint", tracing.Endpoint)
	viper.SetDefault("tracing.service_name", tracing.ServiceName)
	viper.SetDefault("tracing.environment", tracing.Environment)
	viper.SetDefault("tracing.sample_rate", tracing.SampleRate)
	viper.SetDefault("tracing.insecure", tracing.Insecure)

	// General defaults
	viper.SetDefault("base_url", "http://localhost:8080")
	viper.SetDefault("debug", false)
}

// envOnlyKeys have no default, so AutomaticEnv alone does not make Unmarshal
// see them
var envOnlyKeys = []string{
	"cdn.host",
	"cdn.enabled",
	"publish.endpoint",
	"publish.access_key",
	"publish.secret_key",
	"publish.bucket",
	"publish.prefix",
	"livereload.redis_url",
	"tailwind.input",
	"esbuild.script",
	"esbuild.cache_metafile",
}

// bindEnv binds the FLUXASSETS_ variables of keys without a default. It must
// run after the env prefix is set.
func bindEnv() {
	for _, key := range envOnlyKeys {
		_ = viper.BindEnv(key)
	}
}

// applyDerived fills values whose default depends on other settings
func (c *Config) applyDerived(cacheMetafileSet, cdnEnabledSet bool) {
	if c.Assets.OutputFolder == "" {
		c.Assets.OutputFolder = filepath.Join(c.Assets.StaticFolder, "dist")
	}
	if c.Assets.OutputURL == "" {
		c.Assets.OutputURL = strings.TrimRight(c.Assets.StaticURLPath, "/") + "/dist"
	}
	if !cacheMetafileSet {
		c.Esbuild.CacheMetafile = !c.Debug
	}
	if !cdnEnabledSet {
		c.CDN.Enabled = !c.Debug
	}
	if c.CDN.Host == "" {
		c.CDN.Enabled = false
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Assets.Folder == "" {
		return fmt.Errorf("assets.folder cannot be empty")
	}
	if c.Assets.StaticFolder == "" {
		return fmt.Errorf("assets.static_folder cannot be empty")
	}
	if c.Assets.MappingFile == "" {
		return fmt.Errorf("assets.mapping_file cannot be empty")
	}
	if !strings.HasPrefix(c.Assets.StaticURLPath, "/") {
		return fmt.Errorf("assets.static_url_path must start with '/'")
	}

	if c.Esbuild.Mode != "binary" && c.Esbuild.Mode != "api" {
		return fmt.Errorf("esbuild mode must be 'binary' or 'api'")
	}
	if c.Esbuild.Mode == "binary" && len(c.Esbuild.Bin) == 0 && c.Esbuild.Script == "" {
		return fmt.Errorf("esbuild.bin is required in binary mode")
	}

	if err := c.LiveReload.Validate(); err != nil {
		return fmt.Errorf("livereload configuration error: %w", err)
	}

	if c.CDN.Enabled && c.CDN.Host == "" {
		return fmt.Errorf("cdn.host is required when the CDN is enabled")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/'")
	}

	return nil
}

// Validate validates live reload configuration
func (lc *LiveReloadConfig) Validate() error {
	if lc.Port <= 0 || lc.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	switch lc.Backend {
	case "local":
	case "redis":
		if lc.RedisURL == "" {
			return fmt.Errorf("redis_url is required when using the redis backend")
		}
	default:
		return fmt.Errorf("invalid backend: %s (must be 'local' or 'redis')", lc.Backend)
	}
	return nil
}

// Validate validates publish configuration. It is only checked when
// publishing, since most setups never upload.
func (pc *PublishConfig) Validate() error {
	if pc.Endpoint == "" || pc.AccessKey == "" || pc.SecretKey == "" || pc.Bucket == "" {
		return fmt.Errorf("publish configuration is incomplete")
	}
	return nil
}
