package config

import (
	"time"

	"github.com/gifmada/alertd/pkg/pipeline"
)

type Config struct {
	Log       LogConfig
	Server    ServerConfig
	Transport TransportConfig
	Auth      AuthConfig
	Database  DatabaseConfig
	Directory DirectoryConfig
	Alerts    AlertsConfig
	Relay     RelayConfig
	Notify    NotifyConfig
	// Roles maps stored role names onto canonical ones, e.g. CHEF_FOKONTANY: AREA_CHIEF.
	Roles map[string]string `mapstructure:"roles"`
}

type LogConfig struct {
	Level string
}

type ServerConfig struct {
	Address         string
	InternalToken   string          `mapstructure:"internalToken"`
	HandshakeLimit  RateLimitConfig `mapstructure:"handshakeLimit"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdownTimeout"`
	// OriginPatterns are the browser origins allowed to open realtime
	// connections. Empty accepts any origin.
	OriginPatterns []string `mapstructure:"originPatterns"`
}

type RateLimitConfig struct {
	Rate  float64 `mapstructure:"rate"` // events per second; zero disables the limit
	Burst int     `mapstructure:"burst"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwtSecret"`
	LookupTimeout time.Duration `mapstructure:"lookupTimeout"`
}

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	PingInterval time.Duration `mapstructure:"pingInterval"`
	SendBuffer   int           `mapstructure:"sendBuffer"`
	ReadLimit    int64         `mapstructure:"readLimit"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"maxConns"`
}

// DirectoryConfig seeds the static directory used when no database is configured.
type DirectoryConfig struct {
	Users []UserConfig `mapstructure:"users"`
}

type UserConfig struct {
	ID        string `mapstructure:"id"`
	Email     string `mapstructure:"email"`
	Role      string `mapstructure:"role"`
	AreaID    int64  `mapstructure:"areaId"`
	FirstName string `mapstructure:"firstName"`
	LastName  string `mapstructure:"lastName"`
	Verified  bool   `mapstructure:"verified"`
}

type AlertsConfig struct {
	Recipients       []SelectorConfig `mapstructure:"recipients"`
	AreaField        string           `mapstructure:"areaField"`
	SendTimeout      time.Duration    `mapstructure:"sendTimeout"`
	DirectoryTimeout time.Duration    `mapstructure:"directoryTimeout"`
	Concurrency      int              `mapstructure:"concurrency"`

	// Policy is Recipients compiled against the engine's selectors.
	Policy []pipeline.Step `mapstructure:"-"`
}

type SelectorConfig struct {
	Name   string   `mapstructure:"name"`
	Params []string `mapstructure:"params"`
}

type RelayConfig struct {
	SendTimeout time.Duration `mapstructure:"sendTimeout"`
	RateLimit   float64       `mapstructure:"rateLimit"`
	Burst       int           `mapstructure:"burst"`
}

type NotifyConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
	// AlertRoles receive the panic-alert e-mail after a broadcast.
	AlertRoles []string      `mapstructure:"alertRoles"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}
