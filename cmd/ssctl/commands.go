package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ooni/sscontrol/internal/diag"
	"github.com/ooni/sscontrol/internal/engine"
	"github.com/ooni/sscontrol/internal/engine/wsengine"
	"github.com/ooni/sscontrol/internal/keysource"
	"github.com/ooni/sscontrol/internal/metrics"
	"github.com/ooni/sscontrol/internal/platerrors"
	"github.com/ooni/sscontrol/internal/store"
	"github.com/ooni/sscontrol/internal/tracex"
	"github.com/ooni/sscontrol/pkg/config"
	"github.com/ooni/sscontrol/pkg/tunnel"
)

// fail prints the error envelope on stdout and returns the exit code.
func (c *cli) fail(err error) int {
	fmt.Fprintln(c.stdout, tunnel.ToEnvelope(err))
	return 1
}

func (c *cli) keySource() (keysource.Source, error) {
	ak := c.file.AccessKey
	switch {
	case ak.Key != "":
		return keysource.NewStatic(ak.Key), nil
	case ak.URL != "":
		client := &http.Client{Timeout: 30 * time.Second}
		return keysource.NewHTTP(ak.URL, ak.Token, client, c.logger), nil
	default:
		return nil, platerrors.New(platerrors.InvalidConfig, "no access key configured")
	}
}

type parsedKey struct {
	Method  string `json:"method"`
	Server  string `json:"server"`
	Port    int    `json:"port"`
	Tag     string `json:"tag,omitempty"`
	Address string `json:"address"`
}

func (c *cli) parse(ctx context.Context) int {
	src, err := c.keySource()
	if err != nil {
		return c.fail(err)
	}
	key, err := src.AccessKey(ctx)
	if err != nil {
		return c.fail(err)
	}
	c.printJSON(parsedKey{
		Method:  key.Method,
		Server:  key.Host,
		Port:    key.Port,
		Tag:     key.Tag,
		Address: key.Address(),
	})
	return 0
}

// env is a running tunnel client with its collaborators.
type env struct {
	client   *tunnel.Client
	engine   *wsengine.Client
	registry *prometheus.Registry
	store    *store.SQLite
	tracer   *tracex.Tracer
}

func (c *cli) open(ctx context.Context) (*env, error) {
	if c.file.Engine.URL == "" {
		return nil, platerrors.New(platerrors.InvalidConfig, "no engine URL configured")
	}
	eng, err := wsengine.Dial(ctx, c.file.Engine.URL, c.logger)
	if err != nil {
		return nil, platerrors.Wrap(platerrors.SystemVPNSetupFailed, err)
	}
	e := &env{engine: eng, registry: prometheus.NewRegistry()}
	e.registry.MustRegister(collectors.NewGoCollector())
	opts := []config.Option{
		config.WithLogger(c.logger),
		config.WithParsedFile(c.file),
		config.WithMetrics(metrics.New(e.registry)),
	}
	if path := c.file.Storage.Path; path != "" {
		st, err := store.OpenSQLite(path)
		if err != nil {
			eng.Close()
			return nil, platerrors.Wrap(platerrors.InternalError, err)
		}
		e.store = st
		opts = append(opts, config.WithStore(st))
	}
	if c.trace {
		e.tracer = tracex.NewTracer(time.Now())
		opts = append(opts, config.WithTracer(e.tracer))
	}
	e.client = tunnel.Start(config.NewConfig(opts...), eng)
	return e, nil
}

func (c *cli) close(e *env) {
	e.client.Close()
	if err := e.engine.Close(); err != nil {
		c.logger.Debugf("engine close: %s", err.Error())
	}
	if e.store != nil {
		e.store.Close()
	}
	if e.tracer != nil {
		c.writeTrace(e.tracer)
	}
}

func (c *cli) connect(ctx context.Context) int {
	src, err := c.keySource()
	if err != nil {
		return c.fail(err)
	}
	e, err := c.open(ctx)
	if err != nil {
		return c.fail(err)
	}
	defer c.close(e)

	if err := e.client.Reconcile(ctx); err != nil {
		c.logger.Warnf("reconcile: %s", err.Error())
	}
	cancel := e.client.SubscribeElapsed(func(el tunnel.Elapsed) {
		c.logger.Infof("connected for %s", el)
	})
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if addr := c.file.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			c.logger.Infof("metrics: listening on %s", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Shutdown(context.Background())
		})
	}
	g.Go(func() error {
		if err := e.client.Connect(gctx, src); err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, "connected")
		<-gctx.Done()
		return e.client.Disconnect(context.Background())
	})
	if err := g.Wait(); err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, "disconnected")
	return 0
}

func (c *cli) disconnect(ctx context.Context) int {
	e, err := c.open(ctx)
	if err != nil {
		return c.fail(err)
	}
	defer c.close(e)
	if err := e.client.Reconcile(ctx); err != nil {
		return c.fail(err)
	}
	if err := e.client.Disconnect(ctx); err != nil {
		return c.fail(err)
	}
	c.printJSON(e.client.State())
	return 0
}

func (c *cli) status(ctx context.Context) int {
	e, err := c.open(ctx)
	if err != nil {
		return c.fail(err)
	}
	defer c.close(e)
	rerr := e.client.Reconcile(ctx)
	c.printJSON(e.client.State())
	if rerr != nil {
		return c.fail(rerr)
	}
	return 0
}

func (c *cli) diag(ctx context.Context) int {
	var raw string
	if src, err := c.keySource(); err == nil {
		if key, err := src.AccessKey(ctx); err == nil {
			raw = key.Raw
		} else if c.file.AccessKey.Key != "" {
			raw = c.file.AccessKey.Key
		}
	}

	var eng engine.Engine
	if url := c.file.Engine.URL; url != "" {
		client, err := wsengine.Dial(ctx, url, c.logger)
		if err != nil {
			c.logger.Warnf("diag: %s", err.Error())
		} else {
			defer client.Close()
			eng = client
		}
	}

	cfg := config.NewConfig(config.WithParsedFile(c.file))
	runner := diag.NewRunner(eng, raw, cfg.ConnectedStatusCode(), c.logger)
	if d := c.file.Engine.Timeout; d > 0 {
		runner.Timeout = d
	}
	report := runner.Run(ctx)
	c.printJSON(report)
	if !report.OK() {
		return 1
	}
	return 0
}

func (c *cli) analyze(path string) int {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(c.stderr, "fatal: "+err.Error())
		return 1
	}
	defer f.Close()
	issues, err := diag.AnalyzeLog(f)
	if err != nil {
		fmt.Fprintln(c.stderr, "fatal: "+err.Error())
		return 1
	}
	if issues == nil {
		issues = []diag.Issue{}
	}
	c.printJSON(issues)
	return 0
}
