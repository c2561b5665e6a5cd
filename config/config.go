package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AccessToken           string
	Port                  string
	TLSEnabled            bool
	CertDir               string
	WorkspaceRoot         string
	LogLevel              string
	AuditLogEnabled       bool
	AuditLogFilePath      string
	AuditLogSizeLimitMB   int
	RequestLogEnabled     bool
	RequestLogFilePath    string
	RequestLogSizeLimitMB int
	Archiver              ArchiverConfig
}

// ArchiverConfig controls how the 7-Zip binary is located, provisioned and
// driven. Every field can be overridden from the YAML file named by
// ARCHIVER_CONFIG_FILE.
type ArchiverConfig struct {
	BinDir           string        `yaml:"bin_dir"`
	ManagedDir       string        `yaml:"managed_dir"`
	Candidates       []string      `yaml:"candidates"`
	SearchPath       bool          `yaml:"search_path"`
	BootstrapEnabled bool          `yaml:"bootstrap_enabled"`
	InstallerURL     string        `yaml:"installer_url"`
	ArchiveURL       string        `yaml:"archive_url"`
	FetchMode        string        `yaml:"fetch_mode"`
	FetchTools       []string      `yaml:"fetch_tools"`
	WaitBudget       time.Duration `yaml:"wait_budget"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	DownloadTimeout  time.Duration `yaml:"download_timeout"`
	InstallTimeout   time.Duration `yaml:"install_timeout"`
	DetachOnTimeout  bool          `yaml:"detach_on_timeout"`
	ShellMode        bool          `yaml:"shell_mode"`
	Debug            bool          `yaml:"debug"`
	WatchBinary      bool          `yaml:"watch_binary"`
}

const (
	FetchModeTool   = "tool"
	FetchModeNative = "native"
)

func NewConfig() (*Config, error) {
	cfg := &Config{
		AccessToken:           getEnv("ACCESS_TOKEN", ""),
		Port:                  getEnv("PORT", "8080"),
		TLSEnabled:            getEnvBool("TLS_ENABLED", false),
		CertDir:               getEnv("CERT_DIR", "./ssl"),
		WorkspaceRoot:         getEnv("WORKSPACE_ROOT", "/srv/archives"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		AuditLogEnabled:       getEnvBool("AUDIT_LOG_ENABLED", false),
		AuditLogFilePath:      getEnv("AUDIT_LOG_FILE_PATH", "/var/log/berth-archiver/audit.jsonl"),
		AuditLogSizeLimitMB:   getEnvInt("AUDIT_LOG_SIZE_LIMIT_MB", 100),
		RequestLogEnabled:     getEnvBool("REQUEST_LOG_ENABLED", false),
		RequestLogFilePath:    getEnv("REQUEST_LOG_FILE_PATH", "/var/log/berth-archiver/requests.jsonl"),
		RequestLogSizeLimitMB: getEnvInt("REQUEST_LOG_SIZE_LIMIT_MB", 100),
		Archiver: ArchiverConfig{
			BinDir:           getEnv("ARCHIVER_BIN_DIR", executableDir()),
			ManagedDir:       getEnv("ARCHIVER_MANAGED_DIR", "/var/lib/berth-archiver"),
			Candidates:       getEnvList("ARCHIVER_CANDIDATES"),
			SearchPath:       getEnvBool("ARCHIVER_SEARCH_PATH", true),
			BootstrapEnabled: getEnvBool("ARCHIVER_BOOTSTRAP_ENABLED", false),
			InstallerURL:     getEnv("ARCHIVER_INSTALLER_URL", ""),
			ArchiveURL:       getEnv("ARCHIVER_ARCHIVE_URL", ""),
			FetchMode:        getEnv("ARCHIVER_FETCH_MODE", FetchModeTool),
			FetchTools:       getEnvList("ARCHIVER_FETCH_TOOLS"),
			WaitBudget:       getEnvDuration("ARCHIVER_WAIT_BUDGET", 10*time.Second),
			ProbeTimeout:     getEnvDuration("ARCHIVER_PROBE_TIMEOUT", 5*time.Second),
			DownloadTimeout:  getEnvDuration("ARCHIVER_DOWNLOAD_TIMEOUT", 50*time.Second),
			InstallTimeout:   getEnvDuration("ARCHIVER_INSTALL_TIMEOUT", 60*time.Second),
			DetachOnTimeout:  getEnvBool("ARCHIVER_DETACH_ON_TIMEOUT", false),
			ShellMode:        getEnvBool("ARCHIVER_SHELL_MODE", false),
			Debug:            getEnvBool("ARCHIVER_DEBUG", false),
			WatchBinary:      getEnvBool("ARCHIVER_WATCH_BINARY", true),
		},
	}

	if path := getEnv("ARCHIVER_CONFIG_FILE", ""); path != "" {
		if err := cfg.Archiver.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Archiver.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile overlays the keys present in a YAML file onto c. Keys absent
// from the file keep their current value.
func (c *ArchiverConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read archiver config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse archiver config %s: %w", path, err)
	}
	return nil
}

func (c *ArchiverConfig) Validate() error {
	switch c.FetchMode {
	case FetchModeTool, FetchModeNative:
	default:
		return fmt.Errorf("invalid fetch mode %q (expected %q or %q)", c.FetchMode, FetchModeTool, FetchModeNative)
	}
	if c.WaitBudget <= 0 {
		return fmt.Errorf("wait budget must be positive, got %s", c.WaitBudget)
	}
	return nil
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, string(os.PathListSeparator)) {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

var Module = fx.Options(
	fx.Provide(NewConfig),
)
