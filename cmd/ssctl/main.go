// Command ssctl drives a Shadowsocks tunnel through the engine helper.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/pborman/getopt/v2"

	"github.com/ooni/sscontrol/pkg/config"
)

const usageCommands = `commands:
  parse              validate the access key and print it
  connect            connect and stay connected until interrupted
  disconnect         disconnect a running tunnel
  status             print the connection state
  diag               run connection diagnostics
  analyze LOGFILE    look for known problems in a log file
`

// cli holds what every command needs.
type cli struct {
	file   *config.File
	logger *log.Logger
	stdout io.Writer
	stderr io.Writer
	trace  bool
}

func main() {
	os.Exit(runMain())
}

// runMain runs the command line until done or interrupted.
func runMain() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	set := getopt.New()
	set.SetProgram("ssctl")
	set.SetParameters("COMMAND [ARG]")
	optConfig := set.StringLong("config", 'c', "", "Configuration file")
	optEngine := set.StringLong("engine", 'e', "", "Engine helper websocket URL")
	optKey := set.StringLong("key", 'k', "", "Access key (ss://...)")
	optTrace := set.BoolLong("trace", 't', "Write a JSON trace of the state transitions")
	optVerbosity := set.Uint16Long("verbosity", 'v', uint16(3), "Verbosity level (1 to 5, 1 is lowest)")
	helpFlag := set.BoolLong("help", 'h', "Display help")

	usage := func() int {
		set.PrintUsage(stderr)
		fmt.Fprint(stderr, usageCommands)
		return 2
	}

	if err := set.Getopt(args, nil); err != nil {
		fmt.Fprintln(stderr, err)
		return usage()
	}
	rest := set.Args()
	if *helpFlag || len(rest) < 1 {
		return usage()
	}

	file := &config.File{}
	if *optConfig != "" {
		var err error
		if file, err = config.ReadFile(*optConfig); err != nil {
			fmt.Fprintln(stderr, "fatal: "+err.Error())
			return 1
		}
	}
	if *optEngine != "" {
		file.Engine.URL = *optEngine
	}
	if *optKey != "" {
		file.AccessKey.Key = *optKey
		file.AccessKey.URL = ""
	}

	level := verbosityLevel(*optVerbosity)
	if !set.Lookup("verbosity").Seen() && file.Log.Level != "" {
		if parsed, err := log.ParseLevel(file.Log.Level); err == nil {
			level = parsed
		}
	}
	c := &cli{
		file:   file,
		logger: &log.Logger{Level: level, Handler: newLogHandler(stderr)},
		stdout: stdout,
		stderr: stderr,
		trace:  *optTrace,
	}
	c.logger.Debugf("config file: %s", *optConfig)

	switch rest[0] {
	case "parse":
		return c.parse(ctx)
	case "connect":
		return c.connect(ctx)
	case "disconnect":
		return c.disconnect(ctx)
	case "status":
		return c.status(ctx)
	case "diag":
		return c.diag(ctx)
	case "analyze":
		if len(rest) != 2 {
			return usage()
		}
		return c.analyze(rest[1])
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		return usage()
	}
}

// printJSON writes v indented to stdout.
func (c *cli) printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(c.stderr, "cannot serialize output: "+err.Error())
		return
	}
	fmt.Fprintln(c.stdout, string(data))
}

// writeTrace writes the trace to a timestamped file.
func (c *cli) writeTrace(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		c.logger.Warnf("cannot serialize trace: %s", err.Error())
		return
	}
	fileName := fmt.Sprintf("ssctl-trace-%s.json", time.Now().Format("2006-01-02-15-04-05"))
	if err := os.WriteFile(fileName, data, 0644); err != nil {
		c.logger.Warnf("cannot write trace: %s", err.Error())
		return
	}
	fmt.Fprintln(c.stderr, "trace written to", fileName)
}
