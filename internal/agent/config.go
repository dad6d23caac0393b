package agent

import "time"

type Config struct {
	HTTPAddr        string        `envconfig:"INFRAWIZ_AGENT_HTTP_ADDR" default:"0.0.0.0:8080"`
	DBDSN           string        `envconfig:"INFRAWIZ_DB_DSN" required:"true"`
	DBMaxConns      int32         `envconfig:"INFRAWIZ_DB_MAX_CONNS" default:"10"`
	MetricsAddr     string        `envconfig:"INFRAWIZ_METRICS_ADDR" default:"0.0.0.0:9090"`
	LogLevel        string        `envconfig:"INFRAWIZ_LOG_LEVEL" default:"info"`
	PollInterval    time.Duration `envconfig:"INFRAWIZ_POLL_INTERVAL" default:"2s"`
	SaveDebounce    time.Duration `envconfig:"INFRAWIZ_SAVE_DEBOUNCE" default:"800ms"`
	ShutdownTimeout time.Duration `envconfig:"INFRAWIZ_SHUTDOWN_TIMEOUT" default:"30s"`
}
