package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"
)

// levelTags are the short prefixes matching the -v verbosity steps.
var levelTags = map[log.Level]string{
	log.DebugLevel: "dbg",
	log.InfoLevel:  "inf",
	log.WarnLevel:  "wrn",
	log.ErrorLevel: "err",
	log.FatalLevel: "fat",
}

// logHandler writes apex/log entries with the time since startup, a level
// tag, and the fields sorted by name.
type logHandler struct {
	io.Writer

	// start is the reference time; now defaults to time.Now.
	start time.Time
	now   func() time.Time
}

func newLogHandler(w io.Writer) *logHandler {
	return &logHandler{Writer: w, start: time.Now(), now: time.Now}
}

// HandleLog implements log.Handler.
func (h *logHandler) HandleLog(e *log.Entry) error {
	tag, ok := levelTags[e.Level]
	if !ok {
		tag = e.Level.String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%10.3f] <%s> %s", h.now().Sub(h.start).Seconds(), tag, e.Message)
	if len(e.Fields) > 0 {
		names := make([]string, 0, len(e.Fields))
		for name := range e.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, " %s=%v", name, e.Fields[name])
		}
	}
	b.WriteByte('\n')
	_, err := io.WriteString(h.Writer, b.String())
	return err
}

// verbosityLevel maps the -v flag to a log level.
func verbosityLevel(v uint16) log.Level {
	switch v {
	case 1:
		return log.FatalLevel
	case 2:
		return log.ErrorLevel
	case 3:
		return log.WarnLevel
	case 4:
		return log.InfoLevel
	default:
		return log.DebugLevel
	}
}
