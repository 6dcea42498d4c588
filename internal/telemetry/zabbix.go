package telemetry

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// zabbixOK is what zabbix_sender prints when the single item was accepted
const zabbixOK = "processed: 1; failed: 0"

// runFunc executes a command and returns its combined output
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ZabbixSender delivers items through the zabbix_sender binary. Arguments
// are passed directly, never through a shell, so message text cannot break
// out of the -o value.
type ZabbixSender struct {
	bin        string
	agentdConf string
	timeout    time.Duration
	limiter    *rate.Limiter
	run        runFunc
}

// NewZabbixSender creates a sender using bin with the agent config at agentdConf
func NewZabbixSender(bin, agentdConf string, timeout time.Duration) *ZabbixSender {
	if bin == "" {
		bin = "zabbix_sender"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ZabbixSender{
		bin:        bin,
		agentdConf: agentdConf,
		timeout:    timeout,
		run:        execRun,
	}
}

// SetRate caps how many items per second are handed to zabbix_sender.
// Zero or less removes the cap. A burst of one item is always allowed.
func (z *ZabbixSender) SetRate(perSecond float64) {
	if perSecond <= 0 {
		z.limiter = nil
		return
	}
	z.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Send implements Sink
func (z *ZabbixSender) Send(ctx context.Context, key, value string) error {
	if z.limiter != nil {
		if err := z.limiter.Wait(ctx); err != nil {
			return &SendError{Key: key, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, z.timeout)
	defer cancel()

	out, err := z.run(ctx, z.bin, "-c", z.agentdConf, "-k", key, "-o", value)
	diagnostic := strings.TrimSpace(string(out))
	if err != nil {
		return &SendError{Key: key, Diagnostic: diagnostic, Err: err}
	}
	if !strings.Contains(diagnostic, zabbixOK) {
		return &SendError{Key: key, Diagnostic: diagnostic, Err: fmt.Errorf("zabbix_sender did not confirm the item")}
	}
	return nil
}

// Close implements Sink
func (z *ZabbixSender) Close() error {
	return nil
}
