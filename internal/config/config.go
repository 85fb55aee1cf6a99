package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type StorageBackend string

const (
	BackendSQLite StorageBackend = "sqlite"
	BackendMongo  StorageBackend = "mongo"
)

// Tracker holds the client-side constants of the tracking engine.
type Tracker struct {
	BatchInterval    time.Duration
	InactivityWindow time.Duration
	ScrollThresholds []int
	// Away periods of this length or shorter produce no tab_return.
	TabReturnMinAway time.Duration
	// Upper bound for the teardown request once the page is gone.
	ReliableTimeout time.Duration
	KeyPrefix       string
	Debug           bool
}

// DefaultTracker mirrors the values the storefront shipped with.
func DefaultTracker() Tracker {
	return Tracker{
		BatchInterval:    5 * time.Second,
		InactivityWindow: 30 * time.Minute,
		ScrollThresholds: []int{25, 50, 75, 100},
		TabReturnMinAway: 5 * time.Second,
		ReliableTimeout:  10 * time.Second,
	}
}

type Config struct {
	Tracker Tracker

	// Ingestion endpoint used by the client.
	EndpointURL string
	AnonKey     string

	// Sink settings.
	Address        string
	StorageBackend StorageBackend
	DatabasePath   string
	MongoURI       string
	MongoDatabase  string
	APIKey         string
	AllowedOrigins []string
	LogLevel       string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getIntListEnv(key string, def []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 || n > 100 {
			return def
		}
		out = append(out, n)
	}
	return out
}

func getListEnv(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DataDir is the platform-specific application data directory.
func DataDir() (string, error) {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDirectory, "Library", "Application Support", "ShopTrace"), nil
	case "windows":
		return filepath.Join(homeDirectory, "AppData", "Roaming", "ShopTrace"), nil
	default: // linux and others
		return filepath.Join(homeDirectory, ".local", "share", "ShopTrace"), nil
	}
}

// Load reads all SHOPTRACE_* env vars and builds the config.
func Load() *Config {
	defaults := DefaultTracker()

	dbPath := os.Getenv("SHOPTRACE_DB_PATH")
	if dbPath == "" {
		if dir, err := DataDir(); err == nil {
			dbPath = filepath.Join(dir, "events.db")
		} else {
			dbPath = "events.db"
		}
	}

	backend := BackendSQLite
	if strings.ToLower(getEnv("SHOPTRACE_STORAGE_BACKEND", "sqlite")) == "mongo" {
		backend = BackendMongo
	}

	return &Config{
		Tracker: Tracker{
			BatchInterval:    getDurationEnv("SHOPTRACE_BATCH_INTERVAL", defaults.BatchInterval),
			InactivityWindow: getDurationEnv("SHOPTRACE_SESSION_TIMEOUT", defaults.InactivityWindow),
			ScrollThresholds: getIntListEnv("SHOPTRACE_SCROLL_THRESHOLDS", defaults.ScrollThresholds),
			TabReturnMinAway: getDurationEnv("SHOPTRACE_TAB_RETURN_MIN_AWAY", defaults.TabReturnMinAway),
			ReliableTimeout:  getDurationEnv("SHOPTRACE_RELIABLE_TIMEOUT", defaults.ReliableTimeout),
			KeyPrefix:        getEnv("SHOPTRACE_KEY_PREFIX", ""),
			Debug:            getBoolEnv("SHOPTRACE_DEBUG", false),
		},

		EndpointURL: getEnv("SHOPTRACE_ENDPOINT", "http://127.0.0.1:8123"),
		AnonKey:     getEnv("SHOPTRACE_ANON_KEY", ""),

		Address:        getEnv("SHOPTRACE_ADDRESS", "127.0.0.1:8123"),
		StorageBackend: backend,
		DatabasePath:   dbPath,
		MongoURI:       getEnv("SHOPTRACE_MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:  getEnv("SHOPTRACE_MONGO_DB", "shoptrace"),
		APIKey:         getEnv("SHOPTRACE_API_KEY", ""),
		AllowedOrigins: getListEnv("SHOPTRACE_ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:       getEnv("SHOPTRACE_LOG_LEVEL", "info"),
	}
}
