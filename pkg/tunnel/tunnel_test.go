package tunnel

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ooni/sscontrol/internal/accesskey"
	"github.com/ooni/sscontrol/internal/engine"
	"github.com/ooni/sscontrol/internal/keysource"
	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/platerrors"
	"github.com/ooni/sscontrol/internal/vpntest"
	"github.com/ooni/sscontrol/pkg/config"
)

var testKey = "ss://" + base64.StdEncoding.EncodeToString([]byte("aes-256-gcm:pw")) + "@10.0.0.1:8388"

func newTestClient(t *testing.T, opts ...config.Option) (*Client, *vpntest.Engine) {
	t.Helper()
	eng := vpntest.NewEngine()
	all := append([]config.Option{config.WithLogger(model.NewTestLogger())}, opts...)
	c := Start(config.NewConfig(all...), eng)
	t.Cleanup(c.Close)
	return c, eng
}

func waitStatus(t *testing.T, c *Client, want Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, status is %s", want, c.State().Status)
}

func TestParseAccessKeyTrimsWhitespace(t *testing.T) {
	key, err := ParseAccessKey("  " + testKey + "\n")
	if err != nil {
		t.Fatal(err)
	}
	if key.Address() != "10.0.0.1:8388" {
		t.Errorf("unexpected address %s", key.Address())
	}
	if _, err := ParseAccessKey("nope"); platerrors.CodeOf(err) != platerrors.MissingScheme {
		t.Errorf("expected MissingScheme, got %v", err)
	}
}

func TestConnectStatusEventDisconnect(t *testing.T) {
	c, eng := newTestClient(t)

	var mu sync.Mutex
	var seen []Status
	cancel := c.Subscribe(func(s ConnectionState) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})
	defer cancel()

	if err := c.Connect(context.Background(), keysource.NewStatic(testKey)); err != nil {
		t.Fatal(err)
	}
	if eng.LastKey() == nil || eng.LastKey().Port != 8388 {
		t.Fatalf("unexpected key %v", eng.LastKey())
	}
	waitStatus(t, c, model.StatusConnected)

	// the engine reports the tunnel went down on its own
	eng.Emit(engine.EventStatus, 1)
	waitStatus(t, c, model.StatusDisconnected)

	want := []Status{model.StatusConnecting, model.StatusConnected, model.StatusDisconnected}
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		got := append([]Status{}, seen...)
		mu.Unlock()
		if len(got) >= len(want) {
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatal(diff)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %v, want %v", got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectWithBadKeyDoesNotReachEngine(t *testing.T) {
	c, eng := newTestClient(t)
	err := c.Connect(context.Background(), keysource.NewStatic("ss://missing-separator"))
	if platerrors.CodeOf(err) != platerrors.MissingCredentialSeparator {
		t.Fatalf("unexpected error %v", err)
	}
	if eng.ConnectCalls() != 0 {
		t.Error("engine should not be called")
	}
	if got := ToEnvelope(err); got != `{"code":"ERR_MISSING_CREDENTIAL_SEPARATOR","message":"access key has no '@' separator"}` {
		t.Errorf("unexpected envelope %s", got)
	}
}

func TestErrorEventFailsTheSession(t *testing.T) {
	c, eng := newTestClient(t)
	if err := c.Connect(context.Background(), keysource.NewStatic(testKey)); err != nil {
		t.Fatal(err)
	}
	eng.Emit(engine.EventError, `{"code":"ERR_PROXY_SERVER_READ_FAILURE","message":"eof"}`)
	// a status event after the error proves the error was processed
	eng.Emit(engine.EventStatus, "connected")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := c.State(); st.LastError != nil {
			if st.LastError.Code != platerrors.ProxyServerReadFailed {
				t.Fatalf("unexpected error %v", st.LastError)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("error event was not delivered")
}

func TestEngineTimeout(t *testing.T) {
	file := &config.File{}
	file.Engine.Timeout = 20 * time.Millisecond
	c, eng := newTestClient(t, config.WithParsedFile(file))
	eng.ConnectFunc = func(ctx context.Context, key *accesskey.AccessKey) error {
		<-ctx.Done()
		return ctx.Err()
	}
	err := c.ConnectAccessKey(context.Background(), mustParse(t))
	if err == nil {
		t.Fatal("expected an error")
	}
	var pe *PlatformError
	if !errors.As(err, &pe) {
		t.Fatalf("expected a PlatformError, got %T", err)
	}
	if c.State().Status != model.StatusFailed {
		t.Errorf("unexpected status %s", c.State().Status)
	}
}

func TestReconcileAdoptsRunningTunnel(t *testing.T) {
	c, eng := newTestClient(t)
	eng.StatusFunc = func(context.Context) (any, error) { return 3, nil }
	if err := c.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := c.State(); st.Status != model.StatusConnected || st.StartedAt.IsNone() {
		t.Errorf("unexpected state %+v", st)
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if eng.DisconnectCalls() != 1 {
		t.Errorf("expected one disconnect call, got %d", eng.DisconnectCalls())
	}
}

func mustParse(t *testing.T) *AccessKey {
	t.Helper()
	key, err := ParseAccessKey(testKey)
	if err != nil {
		t.Fatal(err)
	}
	return key
}
