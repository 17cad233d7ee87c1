package main

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is loomd's own environment-driven configuration. The loom core
// package itself takes its settings as plain constructor arguments and
// small option structs (CookieConfig and the like) with no file format or
// env binding — configuration file parsing is left to the caller. loomd, the
// demonstration binary, loads its settings with github.com/caarlos0/env
// struct tags over a .env file loaded by github.com/joho/godotenv.
type Config struct {
	ListenAddr  string `env:"LOOMD_LISTEN_ADDR" envDefault:":8080"`
	BackendAddr string `env:"LOOMD_BACKEND_ADDR" envDefault:"127.0.0.1:8081"`
	MetricsAddr string `env:"LOOMD_METRICS_ADDR" envDefault:":9100"`

	RingSize       int   `env:"LOOMD_RING_SIZE" envDefault:"16384"`
	ReservedMargin int   `env:"LOOMD_RESERVED_MARGIN" envDefault:"2048"`
	HeaderCapacity int32 `env:"LOOMD_HEADER_CAPACITY" envDefault:"64"`

	ExpectProxyProtocol bool `env:"LOOMD_EXPECT_PROXY_PROTOCOL" envDefault:"false"`

	PersistCookieName string `env:"LOOMD_PERSIST_COOKIE" envDefault:"SRVID"`
	ServerID          string `env:"LOOMD_SERVER_ID" envDefault:"s1"`
	CaptureCookieName string `env:"LOOMD_CAPTURE_COOKIE" envDefault:""`

	FrontendKeepAlive bool `env:"LOOMD_FRONTEND_KEEPALIVE" envDefault:"true"`

	ReadHeaderTimeout time.Duration `env:"LOOMD_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout   time.Duration `env:"LOOMD_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		// Absence of a .env file is expected outside development; fall
		// through to plain environment variables.
		_ = err
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
