package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full server configuration. Values come from the TOML file
// (when present), overridden by environment variables. Zero values fall back
// to defaults.
type Config struct {
	ListenAddr     string   `toml:"listen_addr"`
	AllowedOrigins []string `toml:"allowed_origins"`

	Capacity struct {
		Slots     int    `toml:"slots"`
		Backend   string `toml:"backend"` // "inmem" or "redis"
		RedisAddr string `toml:"redis_addr"`
	} `toml:"capacity"`

	Router struct {
		Workers        int           `toml:"workers"`
		QueueSLA       time.Duration `toml:"queue_sla"`
		BackoffInitial time.Duration `toml:"backoff_initial"`
		BackoffMax     time.Duration `toml:"backoff_max"`
	} `toml:"router"`

	Sandbox struct {
		Backend string `toml:"backend"` // "sim" or "sqs"
	} `toml:"sandbox"`

	Results struct {
		Backend      string `toml:"backend"` // "inmem" or "aws"
		AwsRegion    string `toml:"aws_region"`
		DdbTable     string `toml:"ddb_table"`
		OutputBucket string `toml:"output_bucket"`
	} `toml:"results"`

	Limits struct {
		MaxMemKiB     int `toml:"max_mem_kib"`
		MaxCpuMs      int `toml:"max_cpu_ms"`
		MaxTimeoutSec int `toml:"max_timeout_sec"`
		MaxCodeSizeB  int `toml:"max_code_size_b"`
	} `toml:"limits"`
}

func defaults() Config {
	var c Config
	c.ListenAddr = ":8080"
	c.AllowedOrigins = []string{"http://localhost:3000"}
	c.Capacity.Slots = 16
	c.Capacity.Backend = "inmem"
	c.Router.Workers = 8
	c.Router.QueueSLA = 10 * time.Minute
	c.Router.BackoffInitial = 200 * time.Millisecond
	c.Router.BackoffMax = 15 * time.Second
	c.Sandbox.Backend = "sim"
	c.Results.Backend = "inmem"
	c.Results.AwsRegion = "eu-central-1"
	return c
}

// Load reads the TOML config at path (missing file is fine) and applies
// environment overrides on top.
func Load(path string) (Config, error) {
	c := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := toml.Unmarshal(data, &c); err != nil {
				return c, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return c, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&c)
	return c, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("CAPACITY_SLOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Capacity.Slots = n
		}
	}
	if v := os.Getenv("CAPACITY_BACKEND"); v != "" {
		c.Capacity.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Capacity.RedisAddr = v
	}
	if v := os.Getenv("ROUTER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Router.Workers = n
		}
	}
	if v := os.Getenv("SANDBOX_BACKEND"); v != "" {
		c.Sandbox.Backend = v
	}
	if v := os.Getenv("RESULTS_BACKEND"); v != "" {
		c.Results.Backend = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Results.AwsRegion = v
	}
	if v := os.Getenv("RESULTS_DDB_TABLE"); v != "" {
		c.Results.DdbTable = v
	}
	if v := os.Getenv("OUTPUT_S3_BUCKET"); v != "" {
		c.Results.OutputBucket = v
	}
}
