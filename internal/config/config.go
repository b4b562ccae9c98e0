// Package config resolves runtime settings from environment variables and an
// optional YAML file. Environment wins over the file; the file wins over
// defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	keyHTTPAddr          = "http_addr"
	keyDatabaseURL       = "database_url"
	keyDBHost            = "db_host"
	keyDBPort            = "db_port"
	keyDBUser            = "db_user"
	keyDBPassword        = "db_password"
	keyDBName            = "db_name"
	keyDBSSLMode         = "db_sslmode"
	keyStoreDriver       = "store_driver"
	keySQLitePath        = "sqlite_path"
	keyAllowlistPath     = "allowlist_path"
	keyAuthzModelPath    = "authz_model_path"
	keyAuthzPolicyPath   = "authz_policy_path"
	keyAuthzMode         = "authz_mode"
	keyAuthzAllowOff     = "authz_unsafe_allow_disabled"
	keyTenantDomains     = "tenant_domains"
	keyTrustProxy        = "trust_proxy"
	keyDashboardCacheTTL = "dashboard_cache_ttl"
	keyLineageDepthCap   = "lineage_hard_depth_cap"
	keyLogLevel          = "log_level"
	keyLogFormat         = "log_format"
	keyShutdownTimeout   = "shutdown_timeout"
)

type StoreDriver string

const (
	DriverPostgres StoreDriver = "postgres"
	DriverSQLite   StoreDriver = "sqlite"
	DriverMemory   StoreDriver = "memory"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	StoreDriver StoreDriver
	SQLitePath  string

	AllowlistPath   string
	AuthzModelPath  string
	AuthzPolicyPath string
	AuthzMode       string
	AuthzAllowOff   bool

	// TenantDomains maps hostname to tenant id for the static resolver. Empty
	// means tenants are resolved from the database.
	TenantDomains map[string]string
	TrustProxy    bool

	DashboardCacheTTL time.Duration
	LineageDepthCap   int

	LogLevel  string
	LogFormat string

	ShutdownTimeout time.Duration
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(keyHTTPAddr, ":8080")
	v.SetDefault(keyDBHost, "127.0.0.1")
	v.SetDefault(keyDBPort, "5438")
	v.SetDefault(keyDBUser, "app")
	v.SetDefault(keyDBPassword, "app")
	v.SetDefault(keyDBName, "monopilot")
	v.SetDefault(keyDBSSLMode, "disable")
	v.SetDefault(keyStoreDriver, string(DriverPostgres))
	v.SetDefault(keySQLitePath, "monopilot.db")
	v.SetDefault(keyAuthzMode, "enforce")
	v.SetDefault(keyDashboardCacheTTL, "60s")
	v.SetDefault(keyLineageDepthCap, 32)
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "json")
	v.SetDefault(keyShutdownTimeout, "15s")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// Load reads the environment and, when path is non-empty, a YAML file with
// the same lower-case keys.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	c := Config{
		HTTPAddr:          v.GetString(keyHTTPAddr),
		DatabaseURL:       v.GetString(keyDatabaseURL),
		StoreDriver:       StoreDriver(strings.ToLower(strings.TrimSpace(v.GetString(keyStoreDriver)))),
		SQLitePath:        v.GetString(keySQLitePath),
		AllowlistPath:     v.GetString(keyAllowlistPath),
		AuthzModelPath:    v.GetString(keyAuthzModelPath),
		AuthzPolicyPath:   v.GetString(keyAuthzPolicyPath),
		AuthzMode:         v.GetString(keyAuthzMode),
		AuthzAllowOff:     v.GetBool(keyAuthzAllowOff),
		TrustProxy:        v.GetBool(keyTrustProxy),
		DashboardCacheTTL: v.GetDuration(keyDashboardCacheTTL),
		LineageDepthCap:   v.GetInt(keyLineageDepthCap),
		LogLevel:          v.GetString(keyLogLevel),
		LogFormat:         strings.ToLower(v.GetString(keyLogFormat)),
		ShutdownTimeout:   v.GetDuration(keyShutdownTimeout),
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = dsnFromParts(v)
	}
	domains, err := parseTenantDomains(v.GetString(keyTenantDomains))
	if err != nil {
		return Config{}, err
	}
	if len(domains) == 0 {
		domains = v.GetStringMapString(keyTenantDomains)
	}
	c.TenantDomains = domains

	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return Config{}, fmt.Errorf("config: invalid STORE_DRIVER %q (expected postgres|sqlite|memory)", c.StoreDriver)
	}
	if c.DashboardCacheTTL <= 0 {
		return Config{}, errors.New("config: DASHBOARD_CACHE_TTL must be positive")
	}
	if c.LineageDepthCap <= 0 {
		return Config{}, errors.New("config: LINEAGE_HARD_DEPTH_CAP must be positive")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return Config{}, fmt.Errorf("config: invalid LOG_FORMAT %q (expected json|console)", c.LogFormat)
	}
	return c, nil
}

func dsnFromParts(v *viper.Viper) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(v.GetString(keyDBUser), v.GetString(keyDBPassword)),
		Host:   v.GetString(keyDBHost) + ":" + v.GetString(keyDBPort),
		Path:   "/" + v.GetString(keyDBName),
	}
	q := u.Query()
	q.Set("sslmode", v.GetString(keyDBSSLMode))
	u.RawQuery = q.Encode()
	return u.String()
}

// parseTenantDomains reads "host=tenant-id,host2=tenant-id2".
func parseTenantDomains(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := map[string]string{}
	for pair := range strings.SplitSeq(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		host, id, ok := strings.Cut(pair, "=")
		host = strings.ToLower(strings.TrimSpace(host))
		id = strings.TrimSpace(id)
		if !ok || host == "" || id == "" {
			return nil, fmt.Errorf("config: invalid TENANT_DOMAINS entry %q", pair)
		}
		out[host] = id
	}
	return out, nil
}
