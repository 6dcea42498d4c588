package catalogue

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML layout of a watch-and-recover configuration
type File struct {
	Main      MainSection      `yaml:"main"`
	Telemetry TelemetrySection `yaml:"telemetry"`
	Tracing   TracingSection   `yaml:"tracing"`
	Groups    []GroupSection   `yaml:"groups"`
	Jobs      []JobSection     `yaml:"jobs"`
}

// MainSection holds global settings and the defaults for ungrouped jobs
type MainSection struct {
	StateFile       string `yaml:"state_file"`
	StateBackend    string `yaml:"state_backend"` // file, sqlite, postgres or redis
	StateDSN        string `yaml:"state_dsn"`     // postgres DSN or redis URL
	Cwd             string `yaml:"cwd"`
	LogDir          string `yaml:"log_dir"` // recovery stderr logs land here
	Census          string `yaml:"census"`  // "gopsutil" or "proc"
	MetricsTextfile string `yaml:"metrics_textfile"`
	Tries           *int   `yaml:"tries"`
	Delay           *int   `yaml:"delay"`
}

// TelemetrySection selects the sinks messages and counts are forwarded to
type TelemetrySection struct {
	Zabbix *ZabbixSection `yaml:"zabbix,omitempty"`
	NATS   *NATSSection   `yaml:"nats,omitempty"`
}

// ZabbixSection configures delivery through the zabbix_sender binary
type ZabbixSection struct {
	SenderBin  string  `yaml:"sender_bin"`
	AgentdConf string  `yaml:"agentd_conf"`
	Timeout    string  `yaml:"timeout"` // e.g. "10s"
	Rate       float64 `yaml:"rate"`    // items per second, 0 for unlimited
}

// NATSSection configures delivery to a NATS subject
type NATSSection struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Timeout string `yaml:"timeout"`
}

// TracingSection enables OpenTelemetry spans for every run
type TracingSection struct {
	Endpoint    string `yaml:"endpoint" json:"endpoint,omitempty"` // OTLP/HTTP collector, e.g. localhost:4318
	ServiceName string `yaml:"service_name" json:"service_name,omitempty"`
}

// Enabled reports whether an exporter endpoint is configured
func (t TracingSection) Enabled() bool {
	return t.Endpoint != ""
}

// GroupSection is one entry under groups:
type GroupSection struct {
	Name  string `yaml:"name"`
	Tries *int   `yaml:"tries"`
	Delay *int   `yaml:"delay"`
	Cwd   string `yaml:"cwd"`
}

// JobSection is one entry under jobs:
type JobSection struct {
	Name        string `yaml:"name"`
	WatchFor    string `yaml:"watch_for"`
	RecoverWith string `yaml:"recover_with"`
	Group       string `yaml:"group"`
	Cwd         string `yaml:"cwd"`
	Tries       *int   `yaml:"tries"`
	Delay       *int   `yaml:"delay"`
}

const (
	DefaultStateFile    = "~/.watch-and-recover.state"
	DefaultStateBackend = "file"
	DefaultCwd          = "/tmp"
	DefaultLogDir       = "/tmp"
	DefaultCensus       = "gopsutil"
)

// LoadConfig reads, parses and validates a configuration file
func LoadConfig(path string) (*Catalogue, error) {
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalogue from YAML bytes
func Parse(data []byte) (*Catalogue, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return Build(&file)
}

func (m *MainSection) applyDefaults() {
	if m.StateFile == "" {
		m.StateFile = DefaultStateFile
	}
	if m.StateBackend == "" {
		m.StateBackend = DefaultStateBackend
	}
	if m.Cwd == "" {
		m.Cwd = DefaultCwd
	}
	if m.LogDir == "" {
		m.LogDir = DefaultLogDir
	}
	if m.Census == "" {
		m.Census = DefaultCensus
	}
}

// ExampleConfig is printed by `watch-and-recover config example`
const ExampleConfig = `# watch-and-recover configuration

main:
  state_file: ~/.watch-and-recover.state
  state_backend: file        # file, sqlite, postgres or redis
  # state_dsn: postgres://war:secret@db/war?sslmode=disable
  # state_dsn: redis://redis:6379/0?key=web01:state
  cwd: /tmp                  # default working directory for recovery commands
  log_dir: /tmp              # <log_dir>/<job>-recovery.log receives stderr
  census: gopsutil           # gopsutil or proc
  # metrics_textfile: /var/lib/node_exporter/textfile/watch_and_recover.prom
  tries: 3                   # default ceiling for ungrouped jobs
  delay: 60                  # default seconds between attempts

telemetry:
  zabbix:
    sender_bin: /usr/bin/zabbix_sender
    agentd_conf: /etc/zabbix/zabbix_agentd.conf
    # rate: 20                 # items per second
  # nats:
  #   url: nats://127.0.0.1:4222
  #   subject: watch-and-recover

# tracing:
#   endpoint: localhost:4318
#   service_name: watch-and-recover

# read by "watch-and-recover daemon" only
# daemon:
#   schedule: "@every 30s"
#   listen: ":9817"
#   token_hash: "$2a$10$..."  # bcrypt hash of the bearer token for the HTTP endpoints

groups:
  - name: web
    tries: 5
    delay: 120
    cwd: /srv/www

jobs:
  - name: nginx
    watch_for: "nginx: master process"
    recover_with: /usr/sbin/nginx
    group: web

  - name: php-fpm
    watch_for: "php-fpm: master process"
    recover_with: /usr/sbin/php-fpm
    group: web

  - name: worker
    watch_for: "bin/queue-worker --queue=default"
    recover_with: /opt/app/bin/queue-worker --queue=default
    cwd: /opt/app
    tries: 10
    delay: 30
`
