package diag

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/platerrors"
	"github.com/ooni/sscontrol/internal/vpntest"
)

type fakeResolver struct {
	addrs []string
	err   error
	hosts []string
}

func (r *fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	r.hosts = append(r.hosts, host)
	return r.addrs, r.err
}

func keyFor(host string, port int) string {
	creds := base64.StdEncoding.EncodeToString([]byte("chacha20-ietf-poly1305:pw"))
	return "ss://" + creds + "@" + net.JoinHostPort(host, strconv.Itoa(port))
}

func newTestRunner(eng *vpntest.Engine, raw string) *Runner {
	r := NewRunner(eng, raw, 3, model.NewTestLogger())
	r.Gateway = func() (net.IP, error) { return net.IPv4(192, 168, 1, 1), nil }
	r.Resolver = &fakeResolver{addrs: []string{"127.0.0.1"}}
	r.Timeout = 5 * time.Second
	return r
}

func listen(t *testing.T) int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func findingsByCheck(r *Report) map[string]Finding {
	out := map[string]Finding{}
	for _, f := range r.Findings {
		out[f.Check] = f
	}
	return out
}

func TestRunAllChecksPass(t *testing.T) {
	port := listen(t)
	eng := vpntest.NewEngine()
	eng.StatusFunc = func(context.Context) (any, error) { return 3, nil }
	report := newTestRunner(eng, keyFor("127.0.0.1", port)).Run(context.Background())

	if !report.OK() {
		t.Fatalf("expected success, got %+v", report.Findings)
	}
	if report.Worst() != SeverityNone {
		t.Errorf("unexpected worst severity %q", report.Worst())
	}
	var names []string
	for _, f := range report.Findings {
		names = append(names, f.Check)
	}
	if diff := cmp.Diff([]string{"engine", "access_key", "gateway", "dns", "tcp"}, names); diff != "" {
		t.Error(diff)
	}
	if got := findingsByCheck(report)["engine"].Message; !strings.Contains(got, "connected=true") {
		t.Errorf("unexpected engine message %q", got)
	}
}

func TestRunFailures(t *testing.T) {
	t.Run("missing engine is critical", func(t *testing.T) {
		r := newTestRunner(nil, keyFor("127.0.0.1", listen(t)))
		r.Engine = nil
		report := r.Run(context.Background())
		f := findingsByCheck(report)["engine"]
		if f.OK || f.Severity != SeverityCritical {
			t.Errorf("unexpected finding %+v", f)
		}
		if report.Worst() != SeverityCritical {
			t.Errorf("worst = %q", report.Worst())
		}
	})

	t.Run("engine status error is classified", func(t *testing.T) {
		eng := vpntest.NewEngine()
		eng.StatusFunc = func(context.Context) (any, error) {
			return nil, errors.New("VPN permission not granted")
		}
		report := newTestRunner(eng, keyFor("127.0.0.1", listen(t))).Run(context.Background())
		f := findingsByCheck(report)["engine"]
		if f.OK || f.Severity != SeverityHigh || f.Code != platerrors.VPNPermissionNotGranted {
			t.Errorf("unexpected finding %+v", f)
		}
	})

	t.Run("invalid key skips network checks", func(t *testing.T) {
		report := newTestRunner(vpntest.NewEngine(), "ss://broken").Run(context.Background())
		got := findingsByCheck(report)
		if f := got["access_key"]; f.OK || f.Code != platerrors.MissingCredentialSeparator || f.Severity != SeverityMedium {
			t.Errorf("unexpected access_key finding %+v", f)
		}
		for _, name := range []string{"dns", "tcp"} {
			if f := got[name]; f.OK || !strings.HasPrefix(f.Message, "skipped") {
				t.Errorf("expected %s to be skipped, got %+v", name, f)
			}
		}
	})

	t.Run("no gateway", func(t *testing.T) {
		r := newTestRunner(vpntest.NewEngine(), keyFor("127.0.0.1", listen(t)))
		r.Gateway = func() (net.IP, error) { return nil, errors.New("no default route") }
		f := findingsByCheck(r.Run(context.Background()))["gateway"]
		if f.OK || f.Severity != SeverityCritical {
			t.Errorf("unexpected finding %+v", f)
		}
	})

	t.Run("resolution failure", func(t *testing.T) {
		r := newTestRunner(vpntest.NewEngine(), keyFor("proxy.example", 8388))
		r.Resolver = &fakeResolver{err: errors.New("no such host")}
		r.Dialer = &net.Dialer{Timeout: time.Millisecond}
		f := findingsByCheck(r.Run(context.Background()))["dns"]
		if f.OK || f.Code != platerrors.ResolveIPFailed {
			t.Errorf("unexpected finding %+v", f)
		}
	})

	t.Run("unreachable server", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		ln.Close()
		f := findingsByCheck(newTestRunner(vpntest.NewEngine(), keyFor("127.0.0.1", port)).Run(context.Background()))["tcp"]
		if f.OK || f.Code != platerrors.ProxyServerUnreachable || f.Severity != SeverityHigh {
			t.Errorf("unexpected finding %+v", f)
		}
	})
}

func TestDNSUsesASCIIHostName(t *testing.T) {
	r := newTestRunner(vpntest.NewEngine(), keyFor("bücher.example", 8388))
	resolver := &fakeResolver{addrs: []string{"192.0.2.1"}}
	r.Resolver = resolver
	r.Dialer = &net.Dialer{Timeout: time.Millisecond}
	f := findingsByCheck(r.Run(context.Background()))["dns"]
	if !f.OK {
		t.Fatalf("unexpected finding %+v", f)
	}
	if diff := cmp.Diff([]string{"xn--bcher-kva.example"}, resolver.hosts); diff != "" {
		t.Error(diff)
	}
}

func TestAnalyzeLog(t *testing.T) {
	input := strings.Join([]string{
		"starting up",
		"engine is undefined, cannot continue",
		"VPN Connect Error: dial tcp: connection refused",
		"VPN permission not granted",
		"Base64 decode error in key",
		"connectivity check timed out",
		"all good",
	}, "\n")
	issues, err := AnalyzeLog(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	type summary struct {
		Name     string
		Severity Severity
		Line     int
	}
	var got []summary
	for _, i := range issues {
		got = append(got, summary{i.Name, i.Severity, i.Line})
		if !i.Code.IsValid() {
			t.Errorf("invalid code %q", i.Code)
		}
	}
	want := []summary{
		{"MISSING_ENGINE", SeverityCritical, 2},
		{"CONNECTION_FAILED", SeverityHigh, 3},
		{"PERMISSION_DENIED", SeverityHigh, 4},
		{"BASE64_DECODE_FAILED", SeverityMedium, 5},
		{"CONNECTIVITY_TIMEOUT", SeverityMedium, 6},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}
	if issues[2].Code != platerrors.VPNPermissionNotGranted {
		t.Errorf("unexpected code %s", issues[2].Code)
	}
}
