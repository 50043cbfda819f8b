package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/filesystem"
	"github.com/esprusso/photo-library/internal/jobs"
	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/workers"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	DatabaseURL        string
	LibraryPaths       []string
	HostPath           string
	ContainerPath      string
	PathMappingsFile   string
	ThumbnailDir       string
	DownloadsDir       string
	MediaDir           string
	ThumbnailSize      int
	ExcludeRaw         bool
	Port               string
	MetricsPort        string
	MetricsEnabled     bool
	StallWindow        time.Duration
	StallSweepInterval time.Duration
	JobWorkers         int
	AutoMigrate        bool
	LogStaticFiles     bool
	LogHealthChecks    bool

	// Feature flags based on directory availability
	ThumbnailsEnabled bool
	ExportsEnabled    bool
}

// LoadDotEnv loads a .env file from the working directory when present.
// Variables already set in the environment win.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("Failed to load .env file: %v", err)
		}
		return
	}
	logging.Debug("Loaded environment from .env")
}

// ReadConfig reads configuration from environment variables without
// touching the filesystem.
func ReadConfig() *Config {
	return &Config{
		DatabaseURL:        firstEnv(database.DefaultURL, "DATABASE_URL", "DB_URL"),
		LibraryPaths:       splitList(getEnv("LIBRARY_PATHS", "/library")),
		HostPath:           getEnv("LIBRARY_HOST_PATH", ""),
		ContainerPath:      getEnv("LIBRARY_CONTAINER_PATH", "/library"),
		PathMappingsFile:   getEnv("PATH_MAPPINGS_FILE", ""),
		ThumbnailDir:       getEnv("THUMBNAILS_DIR", "/thumbnails"),
		DownloadsDir:       getEnv("DOWNLOADS_DIR", "/downloads"),
		MediaDir:           getEnv("MEDIA_DIR", "/data/media"),
		ThumbnailSize:      getEnvInt("THUMBNAIL_SIZE", 256),
		ExcludeRaw:         getEnvBool("EXCLUDE_RAW_FILES", false),
		Port:               getEnv("PORT", "8000"),
		MetricsPort:        getEnv("METRICS_PORT", "9090"),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		StallWindow:        getEnvDuration("STALL_WINDOW", jobs.DefaultStallWindow),
		StallSweepInterval: getEnvDuration("STALL_SWEEP_INTERVAL", 0),
		JobWorkers:         workers.ForJobs(),
		AutoMigrate:        getEnvBool("AUTO_MIGRATE", true),
		LogStaticFiles:     getEnvBool("LOG_STATIC_FILES", false),
		LogHealthChecks:    getEnvBool("LOG_HEALTH_CHECKS", true),
	}
}

// LoadConfig loads configuration, logs it and prepares the output
// directories. Thumbnails and exports are disabled when their directory is
// not writable.
func LoadConfig() (*Config, error) {
	LoadDotEnv()
	printBanner()
	logSystemInfo()

	config := ReadConfig()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  DATABASE_URL:          %s", redactURL(config.DatabaseURL))
	logging.Info("  LIBRARY_PATHS:         %s", strings.Join(config.LibraryPaths, ","))
	logging.Info("  LIBRARY_HOST_PATH:     %s", config.HostPath)
	logging.Info("  LIBRARY_CONTAINER_PATH: %s", config.ContainerPath)
	logging.Info("  PATH_MAPPINGS_FILE:    %s", config.PathMappingsFile)
	logging.Info("  THUMBNAILS_DIR:        %s", config.ThumbnailDir)
	logging.Info("  DOWNLOADS_DIR:         %s", config.DownloadsDir)
	logging.Info("  MEDIA_DIR:             %s", config.MediaDir)
	logging.Info("  THUMBNAIL_SIZE:        %d", config.ThumbnailSize)
	logging.Info("  EXCLUDE_RAW_FILES:     %v", config.ExcludeRaw)
	logging.Info("  PORT:                  %s", config.Port)
	logging.Info("  METRICS_PORT:          %s", config.MetricsPort)
	logging.Info("  METRICS_ENABLED:       %v", config.MetricsEnabled)
	logging.Info("  STALL_WINDOW:          %v", config.StallWindow)
	logging.Info("  STALL_SWEEP_INTERVAL:  %v", config.StallSweepInterval)
	logging.Info("  JOB_WORKERS:           %d", config.JobWorkers)
	logging.Info("  AUTO_MIGRATE:          %v", config.AutoMigrate)
	logging.Info("  LOG_STATIC_FILES:      %v", config.LogStaticFiles)
	logging.Info("  LOG_HEALTH_CHECKS:     %v", config.LogHealthChecks)
	logging.Info("  LOG_LEVEL:             %s", logging.GetLevel())

	if config.ThumbnailSize <= 0 {
		return nil, fmt.Errorf("THUMBNAIL_SIZE must be positive, got %d", config.ThumbnailSize)
	}
	if len(config.LibraryPaths) == 0 {
		return nil, fmt.Errorf("LIBRARY_PATHS must name at least one directory")
	}

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	for i, root := range config.LibraryPaths {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve library path %s: %w", root, err)
		}
		config.LibraryPaths[i] = abs
		if err := checkDirectory(abs, "library"); err != nil {
			logging.Warn("  Library directory issue: %v", err)
		}
	}

	var err error
	if config.MediaDir, err = filepath.Abs(config.MediaDir); err != nil {
		return nil, fmt.Errorf("failed to resolve media directory path: %w", err)
	}
	logging.Info("  Media directory (absolute): %s", config.MediaDir)

	config.ThumbnailsEnabled = setupOptionalDir(config.ThumbnailDir, "thumbnails")
	config.ExportsEnabled = setupOptionalDir(config.DownloadsDir, "downloads")

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Database:    ENABLED (required)")
	logging.Info("    Thumbnails:  %s", enabledString(config.ThumbnailsEnabled))
	logging.Info("    Exports:     %s", enabledString(config.ExportsEnabled))
	logging.Info("    Metrics:     %s", enabledString(config.MetricsEnabled))

	return config, nil
}

// PathMapper builds the path mapper from the host/container pair and the
// optional mappings file.
func (c *Config) PathMapper() (*filesystem.PathMapper, error) {
	mappings := []filesystem.Mapping{{From: c.HostPath, To: c.ContainerPath}}
	if c.PathMappingsFile != "" {
		extra, err := filesystem.LoadMappings(c.PathMappingsFile)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, extra...)
	}
	return filesystem.NewPathMapper(mappings...), nil
}

// DatabaseOptions returns the store options implied by the config.
func (c *Config) DatabaseOptions() database.Options {
	return database.Options{AutoMigrate: c.AutoMigrate}
}

// RunnerConfig returns the job runner settings implied by the config.
func (c *Config) RunnerConfig() jobs.RunnerConfig {
	cfg := jobs.DefaultRunnerConfig()
	cfg.Workers = c.JobWorkers
	cfg.SweepInterval = c.StallSweepInterval
	return cfg
}

func setupOptionalDir(path, name string) bool {
	logging.Debug("  Setting up %s directory: %s", name, path)

	if err := os.MkdirAll(path, 0o755); err != nil {
		logging.Warn("    Failed to create %s directory: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}

	testFile := filepath.Join(path, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		logging.Warn("    %s directory is not writable: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("    failed to remove test file %s: %v", testFile, err)
	}

	logging.Debug("    [OK] %s directory ready", name)
	return true
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(db *database.Database, duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DATABASE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] %s database initialized in %v", db.Dialect(), duration)
	logging.Info("  Schema version:   %d", db.SchemaVersion())
	caps := db.Capabilities()
	logging.Info("  Fingerprints:     %s", enabledString(caps.SupportsFingerprint))
	logging.Info("  Featured images:  %s", enabledString(caps.SupportsFeaturedImage))
	if !caps.SupportsFingerprint {
		logging.Warn("  Duplicate detection is disabled until migrations are applied")
	}
}

// LogRunnerInit logs job runner initialization
func LogRunnerInit(cfg jobs.RunnerConfig, types []string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("JOB RUNNER INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Workers:          %d", cfg.Workers)
	logging.Info("  Queue size:       %d", cfg.QueueSize)
	if cfg.SweepInterval > 0 {
		logging.Info("  Stalled sweep:    every %v", cfg.SweepInterval)
	} else {
		logging.Info("  Stalled sweep:    DISABLED")
	}
	if cfg.Gate != nil {
		logging.Info("  Memory gate:      ENABLED")
	}
	logging.Info("  Job types:        %s", strings.Join(types, ", "))
}

// LogRunnerStarted logs successful runner start
func LogRunnerStarted() {
	logging.Info("  [OK] Job runner started")
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logStaticFiles, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}
			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logStaticFiles {
		logging.Info("    Static file logging: ON")
	} else {
		logging.Info("    Static file logging: OFF (set LOG_STATIC_FILES=true to enable)")
	}
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup returns the first path segment of a route.
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")
	first, _, _ := strings.Cut(path, "/")
	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Application:   http://0.0.0.0:%s", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

func printBanner() {
	banner := `
------------------------------------------------------------
    ____  __          __           __    _ __
   / __ \/ /_  ____  / /_____     / /   (_) /_  _________ ________  __
  / /_/ / __ \/ __ \/ __/ __ \   / /   / / __ \/ ___/ __ '/ ___/ / / /
 / ____/ / / / /_/ / /_/ /_/ /  / /___/ / /_/ / /  / /_/ / /  / /_/ /
/_/   /_/ /_/\____/\__/\____/  /_____/_/_.___/_/   \__,_/_/   \__, /
                                                             /____/
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if logging.IsDebugEnabled() {
		logging.Debug("  Goroutines:      %d", runtime.NumGoroutine())
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}
	logging.Info("")
}

func checkDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s directory %s: %w", name, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s path %s is not a directory", name, path)
	}

	if logging.IsDebugEnabled() {
		if entries, err := os.ReadDir(path); err == nil {
			logging.Debug("    Contents: %d entries (top level)", len(entries))
		}
	}
	logging.Info("  [OK] %s directory: %s", name, path)
	return nil
}

// redactURL hides the password of a postgres URL.
func redactURL(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return url
	}
	user, _, hasPassword := strings.Cut(creds, ":")
	if !hasPassword {
		return url
	}
	return scheme + "://" + user + ":***@" + host
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(defaultValue string, keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid duration for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
