package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Credentials
	GitHubToken string
	ZulipKey    string
	ZulipEmail  string
	GoatToken   string
	BQProjectID string

	// Lake
	DataDir    string
	DuckDBPath string
	GCSBucket  string

	// Run log storage
	StorageType string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// API Server
	APIPort         string
	APIHost         string
	RefreshInterval time.Duration
	RefreshETL      bool

	// CLI
	APIEndpoint string

	// Project describes what to ingest
	ProjectFile string
	Project     Project
}

// Project is the YAML project file. It lists the sources the pipeline
// ingests and the defaults the dashboard uses.
type Project struct {
	Repos           []string `yaml:"repos"`
	Packages        []string `yaml:"packages"`
	ZulipURL        string   `yaml:"zulip_url"`
	DocsURL         string   `yaml:"docs_url"`
	ExcludedStreams []int64  `yaml:"excluded_streams"`
	BackfillDays    int      `yaml:"backfill_days"`
	RollingDays     int      `yaml:"rolling_days"`
	BotLogins       []string `yaml:"bot_logins"`
}

// DefaultProject mirrors the project the dashboard was first built for.
func DefaultProject() Project {
	return Project{
		Repos: []string{
			"ibis-project/ibis",
			"ibis-project/ibis-substrait",
			"ibis-project/ibis-ml",
			"ibis-project/ibis-analytics",
		},
		Packages:        []string{"ibis-framework", "ibis-substrait", "ibis-ml", "ibis-analytics"},
		ZulipURL:        "https://ibis-project.zulipchat.com",
		DocsURL:         "https://ibis.goatcounter.com",
		ExcludedStreams: []int64{405931},
		BackfillDays:    defaultBackfillDays(time.Now()),
		RollingDays:     28,
	}
}

// defaultBackfillDays covers every day since PyPI download data became
// available in BigQuery.
func defaultBackfillDays(now time.Time) int {
	start := time.Date(2015, time.July, 19, 0, 0, 0, 0, time.UTC)
	return int(now.Sub(start).Hours() / 24)
}

// Load loads the configuration from an optional .env file, environment
// variables and the YAML project file.
func Load(envFile string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	dataDir := getEnv("DATA_DIR", "datalake")
	cfg := &Config{
		GitHubToken:     getEnv("GITHUB_TOKEN", ""),
		ZulipKey:        getEnv("ZULIP_KEY", ""),
		ZulipEmail:      getEnv("ZULIP_EMAIL", ""),
		GoatToken:       getEnv("GOAT_TOKEN", ""),
		BQProjectID:     getEnv("BQ_PROJECT_ID", ""),
		DataDir:         dataDir,
		DuckDBPath:      getEnv("DUCKDB_PATH", filepath.Join(dataDir, "catalog.ddb")),
		GCSBucket:       getEnv("GCS_BUCKET", ""),
		StorageType:     getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:      getEnv("SQLITE_PATH", filepath.Join(dataDir, "runs.db")),
		PostgresURL:     getEnv("POSTGRES_URL", ""),
		APIPort:         getEnv("API_PORT", "8080"),
		APIHost:         getEnv("API_HOST", "localhost"),
		APIEndpoint:     getEnv("API_ENDPOINT", "http://localhost:8080"),
		ProjectFile:     getEnv("PROJECT_FILE", "project.yaml"),
		RefreshInterval: 10 * time.Minute,
		Project:         DefaultProject(),
	}

	if v := os.Getenv("REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, &ConfigError{Field: "REFRESH_INTERVAL", Message: fmt.Sprintf("invalid duration %q", v)}
		}
		cfg.RefreshInterval = d
	}
	if v := os.Getenv("REFRESH_ETL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &ConfigError{Field: "REFRESH_ETL", Message: fmt.Sprintf("invalid boolean %q", v)}
		}
		cfg.RefreshETL = b
	}

	if err := cfg.loadProject(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadProject overlays the YAML project file on the defaults. A missing
// file keeps the defaults.
func (c *Config) loadProject() error {
	data, err := os.ReadFile(c.ProjectFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read project file: %w", err)
	}

	project, err := ParseProject(data)
	if err != nil {
		return fmt.Errorf("failed to parse project file %s: %w", c.ProjectFile, err)
	}
	c.Project = project
	return nil
}

// ParseProject decodes a YAML project file, filling unset fields with the
// defaults.
func ParseProject(data []byte) (Project, error) {
	project := DefaultProject()
	if err := yaml.Unmarshal(data, &project); err != nil {
		return Project{}, err
	}
	if project.RollingDays <= 0 {
		project.RollingDays = 28
	}
	if project.BackfillDays <= 0 {
		project.BackfillDays = defaultBackfillDays(time.Now())
	}
	return project, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.DataDir == "" {
		return &ConfigError{Field: "DATA_DIR", Message: "data directory is required"}
	}
	if c.RefreshInterval < time.Second {
		return &ConfigError{Field: "REFRESH_INTERVAL", Message: "must be at least 1s"}
	}
	return nil
}

// ValidateGitHub checks what GitHub ingestion needs
func (c *Config) ValidateGitHub() error {
	if c.GitHubToken == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	if len(c.Project.Repos) == 0 {
		return &ConfigError{Field: "repos", Message: "at least one repository is required"}
	}
	return nil
}

// ValidateZulip checks what Zulip ingestion needs
func (c *Config) ValidateZulip() error {
	if c.ZulipKey == "" {
		return &ConfigError{Field: "ZULIP_KEY", Message: "Zulip API key is required"}
	}
	if c.ZulipEmail == "" {
		return &ConfigError{Field: "ZULIP_EMAIL", Message: "Zulip bot email is required"}
	}
	if c.Project.ZulipURL == "" {
		return &ConfigError{Field: "zulip_url", Message: "Zulip site URL is required"}
	}
	return nil
}

// ValidateDocs checks what docs ingestion needs
func (c *Config) ValidateDocs() error {
	if c.GoatToken == "" {
		return &ConfigError{Field: "GOAT_TOKEN", Message: "GoatCounter token is required"}
	}
	if c.Project.DocsURL == "" {
		return &ConfigError{Field: "docs_url", Message: "GoatCounter site URL is required"}
	}
	return nil
}

// ValidatePyPI checks what PyPI ingestion needs
func (c *Config) ValidatePyPI() error {
	if c.BQProjectID == "" {
		return &ConfigError{Field: "BQ_PROJECT_ID", Message: "BigQuery project ID is required"}
	}
	if len(c.Project.Packages) == 0 {
		return &ConfigError{Field: "packages", Message: "at least one package is required"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
