package diag

import (
	"bufio"
	"io"
	"regexp"

	"github.com/ooni/sscontrol/internal/platerrors"
)

// Issue is a known problem recognized in a log line.
type Issue struct {
	Name     string               `json:"name"`
	Severity Severity             `json:"severity"`
	Code     platerrors.ErrorCode `json:"code"`
	Line     int                  `json:"line"`
	Text     string               `json:"text"`
}

type logRule struct {
	name     string
	severity Severity
	pattern  *regexp.Regexp
}

var logRules = []logRule{
	{"MISSING_ENGINE", SeverityCritical, regexp.MustCompile(`(?i)engine.*(undefined|not available|not found)`)},
	{"CONNECTION_FAILED", SeverityHigh, regexp.MustCompile(`(?i)connect.*error`)},
	{"SETUP_FAILED", SeverityHigh, regexp.MustCompile(`(?i)failed.*setup.*vpn`)},
	{"PERMISSION_DENIED", SeverityHigh, regexp.MustCompile(`(?i)permission.*not.*granted`)},
	{"UNSUPPORTED_CONFIG", SeverityMedium, regexp.MustCompile(`(?i)unsupported.*config`)},
	{"BASE64_DECODE_FAILED", SeverityMedium, regexp.MustCompile(`(?i)base64.*decode.*error`)},
	{"TUNNEL_TRAFFIC", SeverityMedium, regexp.MustCompile(`(?i)tunnel.*(tcp|udp).*traffic`)},
	{"CONNECTIVITY_TIMEOUT", SeverityMedium, regexp.MustCompile(`(?i)connectivity.*check.*timed.*out`)},
}

// AnalyzeLog scans r line by line and reports the first matching rule
// for each line. Codes come from [platerrors.GuessCode].
func AnalyzeLog(r io.Reader) ([]Issue, error) {
	var issues []Issue
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineno := 0
	for scanner.Scan() {
		lineno++
		text := scanner.Text()
		for _, rule := range logRules {
			if rule.pattern.MatchString(text) {
				issues = append(issues, Issue{
					Name:     rule.name,
					Severity: rule.severity,
					Code:     platerrors.GuessCode(text),
					Line:     lineno,
					Text:     text,
				})
				break
			}
		}
	}
	return issues, scanner.Err()
}
