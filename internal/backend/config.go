package backend

import (
	"fmt"

	"thebox/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}
	mode := LedgerMode(appConfig.LedgerMode)
	if !mode.IsValid() {
		return Config{}, fmt.Errorf("invalid ledger mode in config: %s", appConfig.LedgerMode)
	}

	return Config{
		Type:       backendType,
		LedgerMode: mode,

		DataDirectory: appConfig.DataDir,
		SQLiteDBPath:  appConfig.SQLiteDBPath,

		APIBaseURL:  appConfig.APIBaseURL,
		HTTPTimeout: appConfig.HTTPTimeout,

		AccessTokenTTL:  appConfig.AccessTokenTTL,
		RefreshTokenTTL: appConfig.RefreshTokenTTL,

		DeviceID:  appConfig.DeviceID,
		ProKey:    appConfig.ProLicenseKey,
		FreeLimit: appConfig.FreeTxLimit,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
		MirrorBuffer: appConfig.MirrorBuffer,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if !c.LedgerMode.IsValid() {
		return fmt.Errorf("invalid ledger mode: %s", c.LedgerMode)
	}

	switch c.Type {
	case FileBackend:
		if c.DataDirectory == "" {
			return fmt.Errorf("data directory is required for file backend")
		}
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case MemoryBackend:
		// nothing survives the process
	}

	if c.LedgerMode == RemoteLedger && c.APIBaseURL == "" {
		return fmt.Errorf("API base URL is required for remote ledger mode")
	}
	if c.LedgerMode == LocalLedger && (c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0) {
		return fmt.Errorf("token lifetimes are required for local ledger mode")
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, FileBackend, SQLiteBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
