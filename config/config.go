package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cropscan/ergot-detector/classifier"
	"github.com/cropscan/ergot-detector/storage"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "ergot.yaml"

type Language struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type ModelConfig struct {
	// Path is the bundled artifact; used when URL is empty.
	Path string `yaml:"path"`
	// URL switches to downloading the artifact over HTTP.
	URL          string        `yaml:"url"`
	Policy       string        `yaml:"policy"`
	ChannelOrder string        `yaml:"channel_order"`
	InputName    string        `yaml:"input_name"`
	OutputName   string        `yaml:"output_name"`
	PoolSize     int           `yaml:"pool_size"`
	Threads      int           `yaml:"threads"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	TempDir      string        `yaml:"temp_dir"`
	RuntimeLib   string        `yaml:"runtime_lib"`
}

type Config struct {
	Addr           string        `yaml:"addr"`
	Debug          bool          `yaml:"debug"`
	SessionSecret  string        `yaml:"session_secret"`
	UploadDir      string        `yaml:"upload_dir"`
	UploadNaming   string        `yaml:"upload_naming"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	MinFreeBytes   uint64        `yaml:"min_free_bytes"`
	ResultTTL      time.Duration `yaml:"result_ttl"`
	LocalesDir     string        `yaml:"locales_dir"`
	Languages      []Language    `yaml:"languages"`
	Model          ModelConfig   `yaml:"model"`
}

func Default() Config {
	return Config{
		Addr:           ":8080",
		SessionSecret:  "a-very-secret-key-for-sessions",
		UploadDir:      "static/uploads",
		UploadNaming:   string(storage.NamingUUID),
		MaxUploadBytes: 10 << 20,
		MinFreeBytes:   64 << 20,
		ResultTTL:      24 * time.Hour,
		Languages: []Language{
			{Code: "en", Name: "English"},
			{Code: "hi", Name: "हिन्दी"},
		},
		Model: ModelConfig{
			Path:         "pearl_millet_ergot_model.onnx",
			Policy:       string(classifier.PolicyResident),
			ChannelOrder: string(classifier.OrderBGR),
			InputName:    "input",
			OutputName:   "output",
			PoolSize:     classifier.DefaultPoolSize,
			FetchTimeout: 5 * time.Minute,
		},
	}
}

// Load applies defaults, then the YAML file at path (if it exists), then
// environment overrides. An empty path means CONFIG_FILE or ergot.yaml.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = getEnv("CONFIG_FILE", DefaultConfigFile)
		explicit = os.Getenv("CONFIG_FILE") != ""
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}
	cfg.Addr = getEnv("ADDR", cfg.Addr)
	cfg.Debug = getEnvBool("DEBUG", cfg.Debug)
	cfg.SessionSecret = getEnv("SESSION_SECRET", cfg.SessionSecret)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.UploadNaming = getEnv("UPLOAD_NAMING", cfg.UploadNaming)
	cfg.LocalesDir = getEnv("LOCALES_DIR", cfg.LocalesDir)
	cfg.Model.Path = getEnv("MODEL_PATH", cfg.Model.Path)
	cfg.Model.URL = getEnv("MODEL_URL", cfg.Model.URL)
	cfg.Model.Policy = getEnv("MODEL_POLICY", cfg.Model.Policy)
	cfg.Model.ChannelOrder = getEnv("MODEL_CHANNEL_ORDER", cfg.Model.ChannelOrder)
	cfg.Model.InputName = getEnv("MODEL_INPUT_NAME", cfg.Model.InputName)
	cfg.Model.OutputName = getEnv("MODEL_OUTPUT_NAME", cfg.Model.OutputName)
	cfg.Model.TempDir = getEnv("MODEL_TEMP_DIR", cfg.Model.TempDir)
	cfg.Model.RuntimeLib = getEnv("ORT_LIB_PATH", cfg.Model.RuntimeLib)

	var err error
	if cfg.MaxUploadBytes, err = getEnvInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes); err != nil {
		return err
	}
	free, err := getEnvInt64("MIN_FREE_BYTES", int64(cfg.MinFreeBytes))
	if err != nil {
		return err
	}
	cfg.MinFreeBytes = uint64(free)
	poolSize, err := getEnvInt64("MODEL_POOL_SIZE", int64(cfg.Model.PoolSize))
	if err != nil {
		return err
	}
	cfg.Model.PoolSize = int(poolSize)
	if cfg.Model.FetchTimeout, err = getEnvDuration("MODEL_FETCH_TIMEOUT", cfg.Model.FetchTimeout); err != nil {
		return err
	}
	if cfg.ResultTTL, err = getEnvDuration("RESULT_TTL", cfg.ResultTTL); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if _, err := classifier.ParsePolicy(c.Model.Policy); err != nil {
		return err
	}
	if _, err := classifier.ParseChannelOrder(c.Model.ChannelOrder); err != nil {
		return err
	}
	if _, err := storage.ParseNaming(c.UploadNaming); err != nil {
		return err
	}
	if c.Model.Path == "" && c.Model.URL == "" {
		return errors.New("either model path or model url is required")
	}
	if c.SessionSecret == "" {
		return errors.New("session secret is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.ResultTTL <= 0 {
		return fmt.Errorf("result ttl must be positive, got %v", c.ResultTTL)
	}
	if len(c.Languages) == 0 {
		return errors.New("at least one language is required")
	}
	return nil
}

// Remote reports whether the model artifact is downloaded.
func (m ModelConfig) Remote() bool {
	return m.URL != ""
}

// CacheOptions converts the model section for classifier.OpenCache.
func (m ModelConfig) CacheOptions() (classifier.CacheOptions, error) {
	policy, err := classifier.ParsePolicy(m.Policy)
	if err != nil {
		return classifier.CacheOptions{}, err
	}
	return classifier.CacheOptions{
		Path:         m.Path,
		URL:          m.URL,
		Policy:       policy,
		PoolSize:     m.PoolSize,
		FetchTimeout: m.FetchTimeout,
		TempDir:      m.TempDir,
	}, nil
}

// Preprocessor returns the input preprocessor for the configured channel order.
func (m ModelConfig) Preprocessor() (*classifier.Preprocessor, error) {
	order, err := classifier.ParseChannelOrder(m.ChannelOrder)
	if err != nil {
		return nil, err
	}
	return classifier.NewPreprocessor(order), nil
}

// SessionOptions returns the onnxruntime session settings.
func (m ModelConfig) SessionOptions() classifier.SessionOptions {
	return classifier.SessionOptions{
		InputName:  m.InputName,
		OutputName: m.OutputName,
		Threads:    m.Threads,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
