package config

import (
	"errors"
	"os"
	fp "path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/store"
	"github.com/ooni/sscontrol/internal/vpntest"
)

func TestNewConfig(t *testing.T) {
	t.Run("default constructor does not fail", func(t *testing.T) {
		c := NewConfig()
		if c.logger == nil {
			t.Errorf("logger should not be nil")
		}
		if c.tracer == nil {
			t.Errorf("tracer should not be nil")
		}
		if c.Store() == nil {
			t.Errorf("store should not be nil")
		}
		if c.Metrics() != nil {
			t.Errorf("metrics should be disabled by default")
		}
		if c.ConnectedStatusCode() != 3 || c.TickInterval() != time.Second {
			t.Errorf("unexpected defaults")
		}
	})
	t.Run("WithLogger sets the logger", func(t *testing.T) {
		testLogger := model.NewTestLogger()
		c := NewConfig(WithLogger(testLogger))
		if c.Logger() != testLogger {
			t.Errorf("expected logger to be set to the configured one")
		}
	})
	t.Run("WithTracer sets the tracer", func(t *testing.T) {
		testTracer := model.Tracer(model.DummyTracer{})
		c := NewConfig(WithTracer(testTracer))
		if c.Tracer() != testTracer {
			t.Errorf("expected tracer to be set to the configured one")
		}
	})
	t.Run("WithStore sets the store", func(t *testing.T) {
		s := store.NewMemory()
		c := NewConfig(WithStore(s))
		if c.Store() != s {
			t.Errorf("expected store to be set to the configured one")
		}
	})
	t.Run("WithClock sets the clock", func(t *testing.T) {
		t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		c := NewConfig(WithClock(func() time.Time { return t0 }))
		if !c.Now().Equal(t0) {
			t.Errorf("expected the configured clock")
		}
	})
	t.Run("WithTickInterval rejects non positive values", func(t *testing.T) {
		vpntest.AssertPanic(t, func() { NewConfig(WithTickInterval(0)) })
	})
	t.Run("WithFile applies the status section", func(t *testing.T) {
		path := writeConfigFile(t, sampleConfigFile)
		c := NewConfig(WithFile(path))
		if c.ConnectedStatusCode() != 2 {
			t.Errorf("expected connected code from file, got %d", c.ConnectedStatusCode())
		}
		if c.TickInterval() != 500*time.Millisecond {
			t.Errorf("expected tick interval from file, got %v", c.TickInterval())
		}
		if c.File().Engine.URL != "ws://127.0.0.1:9000/engine" {
			t.Errorf("unexpected engine url %q", c.File().Engine.URL)
		}
	})
	t.Run("WithFile panics on invalid files", func(t *testing.T) {
		path := writeConfigFile(t, "log:\n  level: chatty\n")
		vpntest.AssertPanic(t, func() { NewConfig(WithFile(path)) })
	})
}

var sampleConfigFile = `
engine:
  url: ws://127.0.0.1:9000/engine
  timeout: 30s
storage:
  path: /var/lib/sscontrol/session.db
access_key:
  url: https://api.example.org
  token: secret
log:
  level: debug
metrics:
  addr: 127.0.0.1:9100
status:
  connected_code: 2
  tick_interval: 500ms
`

func writeConfigFile(t *testing.T, content string) string {
	cfg := fp.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfg, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestReadFile(t *testing.T) {
	got, err := ReadFile(writeConfigFile(t, sampleConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	code := 2
	want := &File{
		Engine:    EngineSection{URL: "ws://127.0.0.1:9000/engine", Timeout: 30 * time.Second},
		Storage:   StorageSection{Path: "/var/lib/sscontrol/session.db"},
		AccessKey: AccessKeySection{URL: "https://api.example.org", Token: "secret"},
		Log:       LogSection{Level: "debug"},
		Metrics:   MetricsSection{Addr: "127.0.0.1:9100"},
		Status:    StatusSection{ConnectedCode: &code, TickInterval: 500 * time.Millisecond},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}
}

func TestReadFileFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", "engine: [unterminated"},
		{"bad engine scheme", "engine:\n  url: http://127.0.0.1/engine\n"},
		{"negative timeout", "engine:\n  timeout: -1s\n"},
		{"key and url", "access_key:\n  key: ss://x\n  url: https://api.example.org\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"negative connected code", "status:\n  connected_code: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFile(writeConfigFile(t, tt.content))
			if !errors.Is(err, ErrBadConfig) {
				t.Errorf("expected ErrBadConfig, got %v", err)
			}
		})
	}
	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFile(fp.Join(t.TempDir(), "nope.yaml"))
		if !errors.Is(err, ErrBadConfig) {
			t.Errorf("expected ErrBadConfig, got %v", err)
		}
	})
}
