package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/totegamma/feedingest/internal/domain"
)

type Config struct {
	Server  Server        `yaml:"server"`
	Store   Store         `yaml:"store"`
	Trigger Trigger       `yaml:"trigger"`
	Fetcher Fetcher       `yaml:"fetcher"`
	Crawler Crawler       `yaml:"crawler"`
	Auth    Auth          `yaml:"auth"`
	Ingest  domain.Config `yaml:"ingest"`
}

type Server struct {
	Listen        string `yaml:"listen"`
	LogLevel      string `yaml:"logLevel"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

type Store struct {
	Driver         string `yaml:"driver"` // pebble, postgres, dynamodb
	Path           string `yaml:"path"`
	PostgresDsn    string `yaml:"postgresDsn"`
	DynamoTable    string `yaml:"dynamoTable"`
	DynamoEndpoint string `yaml:"dynamoEndpoint"`
	AWSRegion      string `yaml:"awsRegion"`
}

type Trigger struct {
	Driver        string        `yaml:"driver"` // redis, eventbridge
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	Tick          time.Duration `yaml:"tick"`
	TargetArn     string        `yaml:"targetArn"`
	RoleArn       string        `yaml:"roleArn"`
}

type Fetcher struct {
	MemcachedAddr string        `yaml:"memcachedAddr"`
	CacheTTL      time.Duration `yaml:"cacheTTL"`
	Timeout       time.Duration `yaml:"timeout"`
	UserAgent     string        `yaml:"userAgent"`
}

type Crawler struct {
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"apiKey"`
	DedupWindow time.Duration `yaml:"dedupWindow"`
}

type Auth struct {
	JwtSecret string `yaml:"jwtSecret"`
	Audience  string `yaml:"audience"`
}

// Default returns the configuration used when a field is absent from the file.
func Default() Config {
	return Config{
		Server: Server{
			Listen:   ":8000",
			LogLevel: "info",
		},
		Store: Store{
			Driver: "pebble",
			Path:   "data/feedingest",
		},
		Trigger: Trigger{
			Driver:    "redis",
			RedisAddr: "localhost:6379",
			Tick:      30 * time.Second,
		},
		Fetcher: Fetcher{
			CacheTTL:  10 * time.Minute,
			Timeout:   30 * time.Second,
			UserAgent: "feedingest/1.0",
		},
		Crawler: Crawler{
			DedupWindow: time.Hour,
		},
		Ingest: domain.Config{}.WithDefaults(),
	}
}

// Load reads the yaml file at path over the defaults, then applies FEEDINGEST_* environment
// overrides. A .env file in the working directory is loaded first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	config := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "open config")
		}
		defer file.Close()

		err = yaml.NewDecoder(file).Decode(&config)
		if err != nil {
			return Config{}, errors.Wrap(err, "decode config")
		}
	}

	if err := config.applyEnv(); err != nil {
		return Config{}, err
	}
	config.Ingest = config.Ingest.WithDefaults()

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"FEEDINGEST_LISTEN":           &c.Server.Listen,
		"FEEDINGEST_LOG_LEVEL":        &c.Server.LogLevel,
		"FEEDINGEST_TRACE_ENDPOINT":   &c.Server.TraceEndpoint,
		"FEEDINGEST_STORE_DRIVER":     &c.Store.Driver,
		"FEEDINGEST_STORE_PATH":       &c.Store.Path,
		"FEEDINGEST_POSTGRES_DSN":     &c.Store.PostgresDsn,
		"FEEDINGEST_DYNAMO_TABLE":     &c.Store.DynamoTable,
		"FEEDINGEST_DYNAMO_ENDPOINT":  &c.Store.DynamoEndpoint,
		"FEEDINGEST_AWS_REGION":       &c.Store.AWSRegion,
		"FEEDINGEST_TRIGGER_DRIVER":   &c.Trigger.Driver,
		"FEEDINGEST_REDIS_ADDR":       &c.Trigger.RedisAddr,
		"FEEDINGEST_REDIS_PASSWORD":   &c.Trigger.RedisPassword,
		"FEEDINGEST_TARGET_ARN":       &c.Trigger.TargetArn,
		"FEEDINGEST_ROLE_ARN":         &c.Trigger.RoleArn,
		"FEEDINGEST_MEMCACHED_ADDR":   &c.Fetcher.MemcachedAddr,
		"FEEDINGEST_CRAWLER_ENDPOINT": &c.Crawler.Endpoint,
		"FEEDINGEST_CRAWLER_API_KEY":  &c.Crawler.APIKey,
		"FEEDINGEST_JWT_SECRET":       &c.Auth.JwtSecret,
		"FEEDINGEST_JWT_AUDIENCE":     &c.Auth.Audience,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"FEEDINGEST_ENABLE_TRACE":         &c.Server.EnableTrace,
		"FEEDINGEST_ALLOW_PURGE":          &c.Ingest.AllowPurge,
		"FEEDINGEST_DISABLE_FOLLOW_LINKS": &c.Ingest.DisableFollowLinks,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.Wrapf(err, "parse %s", key)
			}
			*dst = b
		}
	}

	if v, ok := os.LookupEnv("FEEDINGEST_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "parse FEEDINGEST_REDIS_DB")
		}
		c.Trigger.RedisDB = n
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case "pebble":
	case "postgres":
		if c.Store.PostgresDsn == "" {
			return errors.New("store.postgresDsn is required for the postgres driver")
		}
	case "dynamodb":
		if c.Store.DynamoTable == "" {
			return errors.New("store.dynamoTable is required for the dynamodb driver")
		}
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Trigger.Driver {
	case "redis":
	case "eventbridge":
		if c.Trigger.TargetArn == "" || c.Trigger.RoleArn == "" {
			return errors.New("trigger.targetArn and trigger.roleArn are required for the eventbridge driver")
		}
	default:
		return errors.Errorf("unknown trigger driver %q", c.Trigger.Driver)
	}

	if c.Crawler.Endpoint == "" {
		return errors.New("crawler.endpoint is required")
	}
	return nil
}
