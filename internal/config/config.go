package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mwquant/trendscan/internal/signals"
)

// Duration accepts "30s" style values in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Cache struct {
		Dir        string `yaml:"dir"`
		ResultsDir string `yaml:"results_dir"`
	} `yaml:"cache"`

	Scanner struct {
		Period        string   `yaml:"period"`
		BatchSize     int      `yaml:"batch_size"`
		Workers       int      `yaml:"workers"`
		SymbolTimeout Duration `yaml:"symbol_timeout"`
		BatchDelay    Duration `yaml:"batch_delay"`
		Exclusions    string   `yaml:"exclusions_file"`
	} `yaml:"scanner"`

	Scorer signals.ScorerConfig `yaml:"scorer"`
	Trend  signals.TrendConfig  `yaml:"trend"`

	Market struct {
		TopFraction      float64 `yaml:"top_fraction"`
		LimitUpThreshold float64 `yaml:"limit_up_threshold"`
		MaxSectors       int     `yaml:"max_sectors"`
	} `yaml:"market"`

	Providers map[string]ProviderConfig `yaml:"providers"`

	API struct {
		Addr string `yaml:"addr"`
	} `yaml:"api"`
}

type ProviderConfig struct {
	MaxPerMinute    int      `yaml:"max_per_minute"`
	InitialInterval Duration `yaml:"initial_interval"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.Cache.Dir = "cache"
	cfg.Cache.ResultsDir = "results"
	cfg.Scanner.Period = "1y"
	cfg.Scanner.BatchSize = 50
	cfg.Scanner.Workers = 10
	cfg.Scanner.SymbolTimeout = Duration(30 * time.Second)
	cfg.Scanner.BatchDelay = Duration(time.Second)
	cfg.Scanner.Exclusions = "exclusions.txt"
	cfg.Scorer = signals.DefaultScorerConfig()
	cfg.Trend = signals.DefaultTrendConfig()
	cfg.Market.TopFraction = 0.30
	cfg.Market.LimitUpThreshold = 9.8
	cfg.Market.MaxSectors = 50
	cfg.Providers = map[string]ProviderConfig{
		"eastmoney": {MaxPerMinute: 120, InitialInterval: Duration(200 * time.Millisecond)},
		"tencent":   {MaxPerMinute: 120, InitialInterval: Duration(200 * time.Millisecond)},
		"yahoo":     {MaxPerMinute: 60, InitialInterval: Duration(500 * time.Millisecond)},
	}
	cfg.API.Addr = ":8080"
	return cfg
}

// Load reads the config file at path, falling back to a short list of
// conventional locations when path is empty. A missing file is not an
// error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	paths := []string{path}
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		paths = []string{
			filepath.Join(cwd, "config.yaml"),
			"config.yaml",
		}
	}

	var data []byte
	var readErr error
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, readErr = os.ReadFile(p)
		if readErr == nil {
			break
		}
	}
	if readErr != nil {
		if path != "" {
			return nil, readErr
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
