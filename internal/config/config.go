package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Environment variables with defaults
type ServerEnvironment struct {

	// http server settings
	Environment           string        `env:"ENVIRONMENT,default=dev"`
	Host                  string        `env:"HOST,default=0.0.0.0"`
	Port                  int           `env:"PORT,default=8080"`
	LogLevel              string        `env:"LOG_LEVEL,default=debug"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	ReadTimeout           time.Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout          time.Duration `env:"WRITE_TIMEOUT,default=150s"`
	IdleTimeout           time.Duration `env:"IDLE_TIMEOUT,default=60s"`
	MaxRequestBytes       int64         `env:"MAX_REQUEST_BYTES,default=1048576"`
	RateLimitRPS          int32         `env:"RATE_LIMIT_RPS,default=100"`
	RateLimitBurst        int32         `env:"RATE_LIMIT_BURST,default=200"`

	// relay protocol settings
	TransportEncryptionRequired bool          `env:"TRANSPORT_ENCRYPTION_REQUIRED,default=false"`
	CouplingCodeLifetime        time.Duration `env:"COUPLING_CODE_LIFETIME,default=10m"`
	TransactionLifetime         time.Duration `env:"TRANSACTION_LIFETIME,default=10m"`
	SweepInterval               time.Duration `env:"SWEEP_INTERVAL,default=60s"`
	ListKeysEnabled             bool          `env:"LIST_KEYS_ENABLED,default=false"`

	// push notification settings, push is disabled when the endpoints
	// are left empty
	FCMEndpoint  string `env:"FCM_ENDPOINT"`
	FCMAPIKey    string `env:"FCM_API_KEY"`
	APNSEndpoint string `env:"APNS_ENDPOINT"`
	APNSTopic    string `env:"APNS_TOPIC"`

	// external signature settings, one client per entry of the form
	// clientid=endpoint, separated by |
	ExtSigClients []string      `env:"EXTSIG_CLIENTS,separator=|"`
	ExtSigAPIKey  string        `env:"EXTSIG_API_KEY"`
	ExtSigTimeout time.Duration `env:"EXTSIG_TIMEOUT,default=180s"`

	// database settings
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS,default=4"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS,default=0"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME,default=60m"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME,default=30m"`
	DBConnectTimeout    time.Duration `env:"DB_CONNECT_TIMEOUT,default=5s"`
	DatabasePingTimeout time.Duration `env:"DATABASE_PING_TIMEOUT,default=10s"`

	// Required configuration - must be set by environment variables
	DatabaseURL string `env:"DATABASE_URL,required=true"`
}

var validEnvs = map[string]bool{
	"dev":     true,
	"test":    true,
	"prod":    true,
	"staging": true,
}

// NewServerConfig loads environment variables and returns a ServerEnvironment struct that contains the values
func NewServerConfig() (*ServerEnvironment, error) {
	var cfg ServerEnvironment

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil

}

// validateConfig checks for required env variables
func validateConfig(cfg *ServerEnvironment) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}

	// Validate database pool configuration
	if cfg.DBMaxConnections < 1 {
		return fmt.Errorf("DB_MAX_CONNECTIONS must be at least 1")
	}
	if cfg.DBMinConnections < 0 {
		return fmt.Errorf("DB_MIN_CONNECTIONS must be 0 or greater")
	}
	if cfg.DBMinConnections > cfg.DBMaxConnections {
		return fmt.Errorf("DB_MIN_CONNECTIONS (%d) cannot be greater than DB_MAX_CONNECTIONS (%d)",
			cfg.DBMinConnections, cfg.DBMaxConnections)
	}

	// Signature handlers hold the connection open for up to 120s waiting
	// for the mobile response.
	if cfg.WriteTimeout <= 120*time.Second {
		return fmt.Errorf("WRITE_TIMEOUT must be longer than the 120s signature wait")
	}

	if cfg.CouplingCodeLifetime <= 0 {
		return fmt.Errorf("COUPLING_CODE_LIFETIME must be positive")
	}
	if cfg.TransactionLifetime <= 0 {
		return fmt.Errorf("TRANSACTION_LIFETIME must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}

	for _, entry := range cfg.ExtSigClients {
		if _, _, err := ParseExtSigClient(entry); err != nil {
			return err
		}
	}

	return nil
}

// ParseExtSigClient splits one EXTSIG_CLIENTS entry into its client id and
// endpoint.
func ParseExtSigClient(entry string) (clientID, endpoint string, err error) {
	id, url, ok := strings.Cut(entry, "=")
	if !ok || id == "" || url == "" {
		return "", "", fmt.Errorf("invalid EXTSIG_CLIENTS entry %q, want clientid=endpoint", entry)
	}
	return id, url, nil
}
