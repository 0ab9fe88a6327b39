// Package diag runs connection diagnostics: engine availability, access
// key validity, default route, and DNS and TCP reachability of the proxy
// server.
package diag

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jackpal/gateway"
	"golang.org/x/net/idna"
	"golang.org/x/sync/errgroup"

	"github.com/ooni/sscontrol/internal/accesskey"
	"github.com/ooni/sscontrol/internal/bridge"
	"github.com/ooni/sscontrol/internal/engine"
	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/platerrors"
)

// Severity ranks a failed check.
type Severity string

const (
	SeverityNone     = Severity("")
	SeverityMedium   = Severity("medium")
	SeverityHigh     = Severity("high")
	SeverityCritical = Severity("critical")
)

func (s Severity) rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Finding is the outcome of one check.
type Finding struct {
	Check    string               `json:"check"`
	OK       bool                 `json:"ok"`
	Severity Severity             `json:"severity,omitempty"`
	Code     platerrors.ErrorCode `json:"code,omitempty"`
	Message  string               `json:"message"`
	Duration time.Duration        `json:"duration_ns"`
}

// Report is the list of findings, in check order.
type Report struct {
	Findings []Finding `json:"findings"`
}

// OK is true when every check passed.
func (r *Report) OK() bool {
	for _, f := range r.Findings {
		if !f.OK {
			return false
		}
	}
	return true
}

// Worst returns the highest severity among the failed checks.
func (r *Report) Worst() Severity {
	worst := SeverityNone
	for _, f := range r.Findings {
		if !f.OK && f.Severity.rank() > worst.rank() {
			worst = f.Severity
		}
	}
	return worst
}

// Resolver resolves host names. *net.Resolver implements it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Dialer dials network connections. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Runner runs the diagnostics. Zero fields get defaults in [NewRunner].
type Runner struct {
	// ConnectedCode is the numeric engine status meaning connected.
	ConnectedCode int

	// Dialer is used for the TCP reachability check.
	Dialer Dialer

	// Engine is the engine to query; nil means the engine is unavailable.
	Engine engine.Engine

	// Gateway discovers the default gateway.
	Gateway func() (net.IP, error)

	// Logger is the logger to use.
	Logger model.Logger

	// RawKey is the access key to check.
	RawKey string

	// Resolver is used for the DNS check.
	Resolver Resolver

	// Timeout bounds each check.
	Timeout time.Duration
}

// NewRunner returns a [Runner] with the default network collaborators.
func NewRunner(eng engine.Engine, rawKey string, connectedCode int, logger model.Logger) *Runner {
	return &Runner{
		ConnectedCode: connectedCode,
		Dialer:        &net.Dialer{},
		Engine:        eng,
		Gateway:       gateway.DiscoverGateway,
		Logger:        logger,
		RawKey:        rawKey,
		Resolver:      net.DefaultResolver,
		Timeout:       10 * time.Second,
	}
}

type check struct {
	name string
	fx   func(ctx context.Context) Finding
}

// Run runs the checks concurrently and returns the report. Checks that
// depend on a valid access key are reported as skipped when it is not.
func (r *Runner) Run(ctx context.Context) *Report {
	key, keyErr := accesskey.Parse(r.RawKey)
	checks := []check{
		{"engine", r.checkEngine},
		{"access_key", func(context.Context) Finding { return r.checkKey(key, keyErr) }},
		{"gateway", r.checkGateway},
		{"dns", func(ctx context.Context) Finding { return r.checkDNS(ctx, key) }},
		{"tcp", func(ctx context.Context) Finding { return r.checkTCP(ctx, key) }},
	}

	findings := make([]Finding, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for idx, c := range checks {
		idx, c := idx, c
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, r.Timeout)
			defer cancel()
			t0 := time.Now()
			f := c.fx(cctx)
			f.Check = c.name
			f.Duration = time.Since(t0)
			if f.OK {
				r.Logger.Infof("diag: %s: ok: %s", c.name, f.Message)
			} else {
				r.Logger.Warnf("diag: %s: %s (%s): %s", c.name, f.Severity, f.Code, f.Message)
			}
			findings[idx] = f
			return nil
		})
	}
	_ = g.Wait()
	return &Report{Findings: findings}
}

func (r *Runner) checkEngine(ctx context.Context) Finding {
	if r.Engine == nil {
		return Finding{Severity: SeverityCritical, Code: platerrors.InternalError, Message: "engine is not available"}
	}
	status, err := r.Engine.Status(ctx)
	if err != nil {
		pe := platerrors.FromBoundary(err)
		code := pe.Code
		if code == platerrors.InternalError {
			code = platerrors.GuessCode(pe.Message)
		}
		return Finding{Severity: SeverityHigh, Code: code, Message: "status check failed: " + pe.Message}
	}
	connected := bridge.Normalize(status, r.ConnectedCode)
	return Finding{OK: true, Message: fmt.Sprintf("status %v (connected=%v)", status, connected)}
}

func (r *Runner) checkKey(key *accesskey.AccessKey, err error) Finding {
	if err != nil {
		pe := platerrors.FromBoundary(err)
		return Finding{Severity: SeverityMedium, Code: pe.Code, Message: pe.Message}
	}
	return Finding{OK: true, Message: key.String()}
}

func (r *Runner) checkGateway(context.Context) Finding {
	ip, err := r.Gateway()
	if err != nil {
		return Finding{Severity: SeverityCritical, Code: platerrors.ProxyServerUnreachable,
			Message: "no default gateway: " + err.Error()}
	}
	return Finding{OK: true, Message: "default gateway " + ip.String()}
}

func skipped() Finding {
	return Finding{Severity: SeverityMedium, Code: platerrors.InvalidConfig, Message: "skipped: invalid access key"}
}

func (r *Runner) checkDNS(ctx context.Context, key *accesskey.AccessKey) Finding {
	if key == nil {
		return skipped()
	}
	if net.ParseIP(key.Host) != nil {
		return Finding{OK: true, Message: key.Host + " is an IP address"}
	}
	host, err := idna.Lookup.ToASCII(key.Host)
	if err != nil {
		return Finding{Severity: SeverityMedium, Code: platerrors.InvalidConfig,
			Message: fmt.Sprintf("invalid host name %q: %s", key.Host, err.Error())}
	}
	addrs, err := r.Resolver.LookupHost(ctx, host)
	if err != nil {
		return Finding{Severity: SeverityHigh, Code: platerrors.ResolveIPFailed, Message: err.Error()}
	}
	return Finding{OK: true, Message: fmt.Sprintf("%s resolves to %v", host, addrs)}
}

func (r *Runner) checkTCP(ctx context.Context, key *accesskey.AccessKey) Finding {
	if key == nil {
		return skipped()
	}
	host, err := idna.Lookup.ToASCII(key.Host)
	if err != nil {
		host = key.Host
	}
	address := net.JoinHostPort(host, strconv.Itoa(key.Port))
	conn, err := r.Dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		code := platerrors.GuessCode(err.Error())
		if code != platerrors.ResolveIPFailed {
			code = platerrors.ProxyServerUnreachable
		}
		return Finding{Severity: SeverityHigh, Code: code, Message: err.Error()}
	}
	conn.Close()
	return Finding{OK: true, Message: address + " is reachable"}
}
