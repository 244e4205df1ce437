package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Ledger
	LedgerMode    string
	APIBaseURL    string
	HTTPTimeout   time.Duration
	DeviceID      string
	ProLicenseKey string
	FreeTxLimit   int

	// Local storage
	DataBackend  string
	DataDir      string
	SQLiteDBPath string
	PrefsFile    string

	// Reference backend
	Port            string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// AMQP mirror
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	MirrorBuffer int

	// Google Sheets mirror
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleCredentialsFile string
	GoogleCredentialsJSON string

	// Assistant
	AssistantBaseURL  string
	AssistantAPIKey   string
	AssistantModel    string
	AssistantCacheTTL time.Duration

	LogLevel string
}

func Load() *Config {
	dataDir := getEnv("DATA_DIR", defaultDataDir())

	cfg := &Config{
		LedgerMode:    getEnv("LEDGER_MODE", "remote"),
		APIBaseURL:    getEnv("THEBOX_API_URL", "http://localhost:3000/api"),
		HTTPTimeout:   getEnvDuration("HTTP_TIMEOUT", 15*time.Second),
		DeviceID:      getEnv("DEVICE_ID", defaultDeviceID()),
		ProLicenseKey: getEnv("PRO_LICENSE_KEY", "BOXPRO"),
		FreeTxLimit:   getEnvInt("FREE_TX_LIMIT", 10),

		DataBackend:  getEnv("DATA_BACKEND", "file"),
		DataDir:      dataDir,
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", filepath.Join(dataDir, "thebox.db")),
		PrefsFile:    getEnv("PREFS_FILE", filepath.Join(dataDir, "prefs.toml")),

		Port:            getEnv("PORT", "3000"),
		AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "thebox"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),
		MirrorBuffer: getEnvInt("MIRROR_BUFFER", 100),

		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:       getEnv("GOOGLE_SHEET_NAME", "Lançamentos"),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),

		AssistantBaseURL:  getEnv("ASSISTANT_BASE_URL", "https://api.deepseek.com"),
		AssistantAPIKey:   getEnv("ASSISTANT_API_KEY", ""),
		AssistantModel:    getEnv("ASSISTANT_MODEL", "deepseek-chat"),
		AssistantCacheTTL: getEnvDuration("ASSISTANT_CACHE_TTL", 10*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var problems []string

	switch c.LedgerMode {
	case "remote":
		if c.APIBaseURL == "" {
			problems = append(problems, "API base URL cannot be empty in remote ledger mode")
		} else if u, err := url.Parse(c.APIBaseURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid API base URL '%s': %v", c.APIBaseURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			problems = append(problems, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		}
		if c.HTTPTimeout <= 0 {
			problems = append(problems, fmt.Sprintf("invalid HTTP timeout %v: must be positive", c.HTTPTimeout))
		}
	case "local":
	default:
		problems = append(problems, fmt.Sprintf("invalid ledger mode '%s': must be one of [remote local]", c.LedgerMode))
	}

	validBackends := []string{"memory", "file", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		problems = append(problems, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "file" && c.DataDir == "" {
		problems = append(problems, "data directory cannot be empty when using file backend")
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			problems = append(problems, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						problems = append(problems, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if strings.TrimSpace(c.DeviceID) == "" {
		problems = append(problems, "device ID cannot be empty")
	}
	if c.FreeTxLimit < 1 {
		problems = append(problems, fmt.Sprintf("invalid free transaction limit %d: must be at least 1", c.FreeTxLimit))
	}

	if c.Port != "" {
		if port, err := strconv.Atoi(c.Port); err != nil {
			problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
		} else if port < 1 || port > 65535 {
			problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
		}
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		problems = append(problems, "token lifetimes must be positive")
	} else if c.AccessTokenTTL >= c.RefreshTokenTTL {
		problems = append(problems, fmt.Sprintf("access token TTL %v must be shorter than refresh token TTL %v", c.AccessTokenTTL, c.RefreshTokenTTL))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			problems = append(problems, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}
	if c.MirrorBuffer < 1 || c.MirrorBuffer > 10000 {
		problems = append(problems, fmt.Sprintf("invalid mirror buffer %d: must be between 1 and 10000", c.MirrorBuffer))
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleSheetName == "" {
			problems = append(problems, "Google Sheet name is required when a spreadsheet ID is set")
		}
		if c.GoogleCredentialsFile == "" && c.GoogleCredentialsJSON == "" {
			problems = append(problems, "either GOOGLE_CREDENTIALS_FILE or GOOGLE_CREDENTIALS_JSON must be provided for the sheets mirror")
		}
		if c.GoogleCredentialsFile != "" {
			if _, err := os.Stat(c.GoogleCredentialsFile); os.IsNotExist(err) {
				problems = append(problems, fmt.Sprintf("Google credentials file does not exist: %s", c.GoogleCredentialsFile))
			}
		}
	}

	if c.AssistantBaseURL != "" {
		if _, err := url.ParseRequestURI(c.AssistantBaseURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid assistant base URL '%s': %v", c.AssistantBaseURL, err))
		}
	}
	if c.AssistantCacheTTL < 0 {
		problems = append(problems, fmt.Sprintf("invalid assistant cache TTL %v: must not be negative", c.AssistantCacheTTL))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}

	return nil
}

// AssistantEnabled reports whether an API key for the language model is configured.
func (c *Config) AssistantEnabled() bool {
	return c.AssistantAPIKey != ""
}

// SheetsEnabled reports whether the Google Sheets mirror is configured.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "thebox")
	}
	return "./data"
}

func defaultDeviceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown-device"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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
