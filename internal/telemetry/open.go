package telemetry

import (
	"fmt"
	"time"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/logging"
)

// Open builds the sink described by the telemetry section. With nothing
// configured the watcher runs without a monitoring system and items only
// reach the log.
func Open(cfg catalogue.TelemetrySection, logger *logging.Logger) (Sink, error) {
	var sinks Multi

	if z := cfg.Zabbix; z != nil {
		timeout, err := parseTimeout(z.Timeout)
		if err != nil {
			return nil, fmt.Errorf("telemetry.zabbix.timeout: %w", err)
		}
		sender := NewZabbixSender(z.SenderBin, z.AgentdConf, timeout)
		sender.SetRate(z.Rate)
		sinks = append(sinks, sender)
	}

	if n := cfg.NATS; n != nil {
		timeout, err := parseTimeout(n.Timeout)
		if err != nil {
			return nil, fmt.Errorf("telemetry.nats.timeout: %w", err)
		}
		ns, err := NewNATSSink(n.URL, n.Subject, timeout)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, ns)
	}

	switch len(sinks) {
	case 0:
		logger.Info("No telemetry configured, working without sending data to a monitoring system")
		return NewLogSink(logger), nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
