package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"turnsync/models"
)

type Config struct {
	Store     StoreConfig
	JobSystem JobSystemConfig
	Archive   ArchiveConfig
	Scheduler SchedulerConfig
	Ingest    IngestConfig
	Reconcile ReconcileConfig
	Windows   WindowConfig
	DBPath    string
	LogLevel  string

	// Per-property overrides keyed by property id, loaded from
	// config/properties/*.yaml.
	Properties map[string]*PropertyConfig

	// Source authority ranks; defaults from models.DefaultSourcePriority,
	// overridable via properties of the environment.
	SourcePriority map[models.Source]int
}

type StoreConfig struct {
	DBURL string
}

type JobSystemConfig struct {
	BaseURL     string
	APIKey      string
	RatePerSec  float64
	Burst       int
	MaxRetries  int
	MaxInterval time.Duration
}

type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string

	// RunOnStart fires a full sync as soon as the daemon is up instead
	// of waiting for the first scheduled slot.
	RunOnStart bool
}

type IngestConfig struct {
	Concurrency int
	Sources     map[string]*SourceConfig
}

// SourceConfig describes one ingestion source. Kind selects the adapter
// (csv, ics, portal); Location is a file path, directory, or feed URL
// depending on the adapter.
type SourceConfig struct {
	ID       string        `yaml:"id"`
	Kind     string        `yaml:"kind"`
	Source   models.Source `yaml:"source"`
	Location string        `yaml:"location"`
	// Window the source export covers, in days around the run date. Used
	// by the removal suppression rule.
	WindowPastDays   int `yaml:"window_past_days"`
	WindowFutureDays int `yaml:"window_future_days"`
}

// ReconcileConfig holds the tunable reconciliation heuristics. The
// rotation/removal boundary is deliberately configurable, not hard-coded:
// upstream behavior there is known to be fuzzy.
type ReconcileConfig struct {
	// Max days of date drift for a proximity match to still count as a
	// token rotation rather than a new booking.
	ProximityMaxDriftDays int
	// Sources whose tokens are known to rotate on every export; only
	// these are eligible for proximity matching.
	RotatingSources map[models.Source]bool
	OwnerWindowDays int
	LongTermDays    int
	JobMatchWindow  time.Duration
}

// WindowConfig holds the global default service windows; per-property
// YAML may override any of them.
type WindowConfig struct {
	DefaultStart     string        `yaml:"default_start"`      // "11:00"
	DefaultDuration  time.Duration `yaml:"default_duration"`
	SameDayStart     string        `yaml:"same_day_start"`     // earlier, tighter
	SameDayDuration  time.Duration `yaml:"same_day_duration"`
	OwnerExtraTime   time.Duration `yaml:"owner_extra_time"`   // extended duration
	LongTermBuffer   time.Duration `yaml:"long_term_buffer"`   // added buffer
}

// PropertyConfig is one property's scheduling profile.
type PropertyConfig struct {
	ID                 string        `yaml:"id"`
	Name               string        `yaml:"name"`
	JobSystemRef       string        `yaml:"job_system_ref"`
	TimeZone           string        `yaml:"timezone"`
	DefaultStart       string        `yaml:"default_start"`
	DefaultDuration    time.Duration `yaml:"default_duration"`
	SameDayStart       string        `yaml:"same_day_start"`
	CustomInstructions string        `yaml:"custom_instructions"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Store: StoreConfig{
			DBURL: os.Getenv("DATABASE_URL"),
		},
		JobSystem: JobSystemConfig{
			BaseURL:     os.Getenv("JOBSYSTEM_URL"),
			APIKey:      os.Getenv("JOBSYSTEM_API_KEY"),
			RatePerSec:  getEnvFloat("JOBSYSTEM_RATE", 5),
			Burst:       getEnvInt("JOBSYSTEM_BURST", 5),
			MaxRetries:  getEnvInt("JOBSYSTEM_MAX_RETRIES", 3),
			MaxInterval: getEnvDuration("JOBSYSTEM_MAX_BACKOFF", 30*time.Second),
		},
		Archive: ArchiveConfig{
			Enabled:         os.Getenv("ARCHIVE_BUCKET") != "",
			Bucket:          os.Getenv("ARCHIVE_BUCKET"),
			Region:          getEnv("ARCHIVE_REGION", "us-east-1"),
			Endpoint:        os.Getenv("ARCHIVE_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_SECRET_ACCESS_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron:       os.Getenv("SYNC_CRON"),
			RunOnStart: getEnvBool("SYNC_ON_START", false),
		},
		Ingest: IngestConfig{
			Concurrency: getEnvInt("INGEST_CONCURRENCY", 5),
			Sources:     make(map[string]*SourceConfig),
		},
		Reconcile: ReconcileConfig{
			ProximityMaxDriftDays: getEnvInt("PROXIMITY_MAX_DRIFT_DAYS", 3),
			RotatingSources: map[models.Source]bool{
				models.SourcePortal: true,
			},
			OwnerWindowDays: getEnvInt("OWNER_WINDOW_DAYS", 1),
			LongTermDays:    getEnvInt("LONG_TERM_DAYS", 14),
			JobMatchWindow:  getEnvDuration("JOB_MATCH_WINDOW", 60*time.Minute),
		},
		Windows: WindowConfig{
			DefaultStart:    getEnv("WINDOW_DEFAULT_START", "11:00"),
			DefaultDuration: getEnvDuration("WINDOW_DEFAULT_DURATION", 2*time.Hour),
			SameDayStart:    getEnv("WINDOW_SAME_DAY_START", "10:00"),
			SameDayDuration: getEnvDuration("WINDOW_SAME_DAY_DURATION", 90*time.Minute),
			OwnerExtraTime:  getEnvDuration("WINDOW_OWNER_EXTRA", time.Hour),
			LongTermBuffer:  getEnvDuration("WINDOW_LONG_TERM_BUFFER", time.Hour),
		},
		DBPath:   getEnv("DB_PATH", "turnsync.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Properties:     make(map[string]*PropertyConfig),
		SourcePriority: make(map[models.Source]int),
	}

	for src, rank := range models.DefaultSourcePriority {
		cfg.SourcePriority[src] = rank
	}

	if interval := os.Getenv("SYNC_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadPropertyConfigs(); err != nil {
		return nil, err
	}
	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadPropertyConfigs() error {
	return loadYAMLDir("config/properties", func(data []byte) error {
		var prop PropertyConfig
		if err := yaml.Unmarshal(data, &prop); err != nil {
			return err
		}
		c.Properties[prop.ID] = &prop
		return nil
	})
}

func (c *Config) loadSourceConfigs() error {
	return loadYAMLDir("config/sources", func(data []byte) error {
		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return err
		}
		c.Ingest.Sources[src.ID] = &src
		return nil
	})
}

func loadYAMLDir(dir string, each func(data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		if err := each(data); err != nil {
			return err
		}
	}
	return nil
}

// Property returns the per-property config, or nil when the property has
// no override file.
func (c *Config) Property(id string) *PropertyConfig {
	return c.Properties[id]
}

// Priority returns the configured authority rank for a source; unknown
// sources rank below everything.
func (c *Config) Priority(src models.Source) int {
	if rank, ok := c.SourcePriority[src]; ok {
		return rank
	}
	return 0
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
