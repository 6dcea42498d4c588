package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/logging"
)

func TestKeys(t *testing.T) {
	if got := MessageKey("nginx"); got != "proc.recovery.job_message[nginx]" {
		t.Errorf("MessageKey = %q", got)
	}
	if got := CountKey("nginx"); got != "trapper.proc.num[nginx]" {
		t.Errorf("CountKey = %q", got)
	}
}

func TestZabbixSenderArguments(t *testing.T) {
	z := NewZabbixSender("/usr/bin/zabbix_sender", "/etc/zabbix/zabbix_agentd.conf", time.Second)

	var gotName string
	var gotArgs []string
	z.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte("info from server: \"processed: 1; failed: 0; total: 1\"\nsent: 1; skipped: 0; total: 1"), nil
	}

	value := "Process \"nginx\" encountered dead.\nIt's 'quoted'"
	if err := z.Send(context.Background(), MessageKey("nginx"), value); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := []string{"-c", "/etc/zabbix/zabbix_agentd.conf", "-k", "proc.recovery.job_message[nginx]", "-o", value}
	if gotName != "/usr/bin/zabbix_sender" {
		t.Errorf("Expected sender binary, got %q", gotName)
	}
	if len(gotArgs) != len(want) {
		t.Fatalf("Expected args %q, got %q", want, gotArgs)
	}
	for i := range want {
		if gotArgs[i] != want[i] {
			t.Errorf("arg %d: expected %q, got %q", i, want[i], gotArgs[i])
		}
	}
}

func TestZabbixSenderFailures(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
	}{
		{"rejected item", "info from server: \"processed: 0; failed: 1; total: 1\"", nil},
		{"exec failure", "cannot connect", errors.New("exit status 2")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z := NewZabbixSender("", "/etc/zabbix/zabbix_agentd.conf", 0)
			z.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
				return []byte(tt.output), tt.err
			}

			err := z.Send(context.Background(), CountKey("a"), "0")
			var sendErr *SendError
			if !errors.As(err, &sendErr) {
				t.Fatalf("Expected SendError, got %v", err)
			}
			if sendErr.Diagnostic != tt.output {
				t.Errorf("Expected diagnostic %q, got %q", tt.output, sendErr.Diagnostic)
			}
			if sendErr.Key != "trapper.proc.num[a]" {
				t.Errorf("Unexpected key %q", sendErr.Key)
			}
		})
	}
}

type recordingSink struct {
	items  map[string]string
	fail   bool
	closed bool
}

func (r *recordingSink) Send(ctx context.Context, key, value string) error {
	if r.fail {
		return errors.New("down")
	}
	if r.items == nil {
		r.items = make(map[string]string)
	}
	r.items[key] = value
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestMultiTriesEverySink(t *testing.T) {
	broken := &recordingSink{fail: true}
	ok := &recordingSink{}
	m := Multi{broken, ok}

	if err := m.Send(context.Background(), "k", "v"); err == nil {
		t.Error("Expected joined error from broken sink")
	}
	if ok.items["k"] != "v" {
		t.Error("Healthy sink must still receive the item")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !broken.closed || !ok.closed {
		t.Error("Expected all sinks closed")
	}
}

func TestEncodeItem(t *testing.T) {
	data, err := encodeItem("host1", "k", "v", time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("encodeItem failed: %v", err)
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if item != (Item{Host: "host1", Key: "k", Value: "v", Clock: 1700000000}) {
		t.Errorf("Unexpected item %+v", item)
	}
}

func TestOpenWithoutTransportLogs(t *testing.T) {
	s, err := Open(catalogue.TelemetrySection{}, logging.Discard())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := s.(*LogSink); !ok {
		t.Errorf("Expected LogSink, got %T", s)
	}
}

func TestOpenZabbix(t *testing.T) {
	s, err := Open(catalogue.TelemetrySection{
		Zabbix: &catalogue.ZabbixSection{AgentdConf: "/etc/zabbix/zabbix_agentd.conf", Timeout: "3s"},
	}, logging.Discard())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	z, ok := s.(*ZabbixSender)
	if !ok {
		t.Fatalf("Expected ZabbixSender, got %T", s)
	}
	if z.timeout != 3*time.Second || z.bin != "zabbix_sender" {
		t.Errorf("Unexpected sender %+v", z)
	}

	_, err = Open(catalogue.TelemetrySection{
		Zabbix: &catalogue.ZabbixSection{AgentdConf: "x", Timeout: "soon"},
	}, logging.Discard())
	if err == nil {
		t.Error("Expected error for bad timeout")
	}
}

func TestZabbixSenderRate(t *testing.T) {
	z := NewZabbixSender("", "/etc/zabbix/zabbix_agentd.conf", time.Second)
	calls := 0
	z.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		return []byte(zabbixOK), nil
	}
	z.SetRate(20)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := z.Send(context.Background(), CountKey("nginx"), "1"); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	// first item passes at once, the next two wait 50ms each
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("Expected sends to be spaced out, took %v", elapsed)
	}
	if calls != 3 {
		t.Errorf("Expected 3 sends, got %d", calls)
	}

	// a cancelled run must not block on the limiter
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var sendErr *SendError
	if err := z.Send(ctx, CountKey("nginx"), "1"); !errors.As(err, &sendErr) {
		t.Errorf("Expected SendError on cancelled context, got %v", err)
	}

	z.SetRate(0)
	if z.limiter != nil {
		t.Error("Expected rate 0 to remove the limiter")
	}
}
