package configuration

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iota-uz/utils/fs"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

// LoadEnv loads the env files found in the working directory, or failing
// that in the nearest parent directory holding a go.mod.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles("", envFiles)
	if len(existing) == 0 {
		if root, ok := moduleRoot(); ok {
			existing = existingFiles(root, envFiles)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(dir string, files []string) []string {
	out := make([]string, 0, len(files))
	for _, file := range files {
		path := file
		if dir != "" {
			path = filepath.Join(dir, file)
		}
		if fs.FileExists(path) {
			out = append(out, path)
		}
	}
	return out
}

func moduleRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if fs.FileExists(filepath.Join(dir, "go.mod")) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type DHIS2Options struct {
	URL string `env:"DHIS2_URL" envDefault:"http://localhost:8080"`
	// Raw Authorization header; takes precedence over User/Password.
	Auth     string `env:"DHIS2_AUTH"`
	User     string `env:"DHIS2_USER"`
	Password string `env:"DHIS2_PASSWORD"`

	Timeout time.Duration `env:"DHIS2_TIMEOUT" envDefault:"30s"`
	RPS     int           `env:"DHIS2_RPS" envDefault:"20"`
	// memory or redis
	RateLimitStorage string `env:"DHIS2_RATE_LIMIT_STORAGE" envDefault:"memory"`
}

func (d *DHIS2Options) Validate() error {
	if strings.TrimSpace(d.URL) == "" {
		return fmt.Errorf("DHIS2_URL is required")
	}
	if d.RPS < 0 {
		return fmt.Errorf("DHIS2_RPS must be non-negative, got %d", d.RPS)
	}
	if d.RateLimitStorage != "memory" && d.RateLimitStorage != "redis" {
		return fmt.Errorf("DHIS2_RATE_LIMIT_STORAGE must be 'memory' or 'redis', got '%s'", d.RateLimitStorage)
	}
	return nil
}

type ApprovalOptions struct {
	Suffix            string `env:"APPROVAL_SUFFIX" envDefault:"_APVD"`
	Concurrency       int    `env:"APPROVAL_CONCURRENCY" envDefault:"5"`
	ChunkSize         int    `env:"APPROVAL_CHUNK_SIZE" envDefault:"1000"`
	CatalogPath       string `env:"APPROVAL_CATALOG_PATH" envDefault:"config/approval/modules.yaml"`
	SettingsNamespace string `env:"APPROVAL_SETTINGS_NAMESPACE" envDefault:"data-approval"`
	SettingsKey       string `env:"APPROVAL_SETTINGS_KEY" envDefault:"settings"`
	// redis or memory
	Store string `env:"APPROVAL_STORE" envDefault:"memory"`
	// memory or postgres
	ImportQueue string `env:"APPROVAL_IMPORT_QUEUE" envDefault:"memory"`
	// Asynchronous platform-side imports for queued jobs.
	AsyncImports bool `env:"APPROVAL_ASYNC_IMPORTS" envDefault:"false"`
}

func (a *ApprovalOptions) Validate() error {
	if a.Suffix == "" {
		return fmt.Errorf("APPROVAL_SUFFIX must not be empty")
	}
	if a.Concurrency < 1 {
		return fmt.Errorf("APPROVAL_CONCURRENCY must be positive, got %d", a.Concurrency)
	}
	if a.ChunkSize < 1 {
		return fmt.Errorf("APPROVAL_CHUNK_SIZE must be positive, got %d", a.ChunkSize)
	}
	switch a.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("APPROVAL_STORE must be 'memory' or 'redis', got '%s'", a.Store)
	}
	switch a.ImportQueue {
	case "memory", "postgres":
	default:
		return fmt.Errorf("APPROVAL_IMPORT_QUEUE must be 'memory' or 'postgres', got '%s'", a.ImportQueue)
	}
	return nil
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"approval"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"data-approval"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type OutboxOptions struct {
	Table                string        `env:"OUTBOX_TABLE" envDefault:"public.approval_import_jobs"`
	RelayEnabled         bool          `env:"OUTBOX_RELAY_ENABLED" envDefault:"true"`
	RelayPollInterval    time.Duration `env:"OUTBOX_RELAY_POLL_INTERVAL" envDefault:"1s"`
	RelayBatchSize       int           `env:"OUTBOX_RELAY_BATCH_SIZE" envDefault:"20"`
	RelayLockTTL         time.Duration `env:"OUTBOX_RELAY_LOCK_TTL" envDefault:"10m"`
	RelayMaxAttempts     int           `env:"OUTBOX_RELAY_MAX_ATTEMPTS" envDefault:"10"`
	RelaySingleActive    bool          `env:"OUTBOX_RELAY_SINGLE_ACTIVE" envDefault:"true"`
	RelayBaseBackoff     time.Duration `env:"OUTBOX_RELAY_BASE_BACKOFF" envDefault:"1s"`
	RelayMaxBackoff      time.Duration `env:"OUTBOX_RELAY_MAX_BACKOFF" envDefault:"5m"`
	RelayDispatchTimeout time.Duration `env:"OUTBOX_RELAY_DISPATCH_TIMEOUT" envDefault:"5m"`

	LastErrorMaxBytes int `env:"OUTBOX_LAST_ERROR_MAX_BYTES" envDefault:"2048"`

	CleanerEnabled       bool          `env:"OUTBOX_CLEANER_ENABLED" envDefault:"true"`
	CleanerInterval      time.Duration `env:"OUTBOX_CLEANER_INTERVAL" envDefault:"1m"`
	CleanerRetention     time.Duration `env:"OUTBOX_CLEANER_RETENTION" envDefault:"168h"`
	CleanerDeadRetention time.Duration `env:"OUTBOX_CLEANER_DEAD_RETENTION" envDefault:"0"`
}

type Configuration struct {
	DHIS2         DHIS2Options
	Approval      ApprovalOptions
	Database      DatabaseOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	Outbox        OutboxOptions

	RedisURL         string `env:"REDIS_URL" envDefault:"localhost:6379"`
	ServerPort       int    `env:"PORT" envDefault:"3200"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress    string `env:"-"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/app.log"`
	// Incoming header carrying the request id; generated when absent.
	RequestIDHeader string `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`
	// Browser origins allowed to call the HTTP API.
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	logFile io.Closer
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := c.parse(); err != nil {
		return err
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger
	return nil
}

// parse reads the environment into c and validates it without touching log files.
func (c *Configuration) parse() error {
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.DHIS2.Validate(); err != nil {
		return fmt.Errorf("dhis2 configuration error: %w", err)
	}
	if err := c.Approval.Validate(); err != nil {
		return fmt.Errorf("approval configuration error: %w", err)
	}
	if c.DHIS2.RateLimitStorage == "redis" || c.Approval.Store == "redis" {
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when redis storage is selected")
		}
	}

	c.Database.Opts = c.Database.ConnectionString()
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
