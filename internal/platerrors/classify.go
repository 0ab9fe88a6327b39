package platerrors

import "regexp"

// messageRule maps a free-text pattern to a code.
type messageRule struct {
	pattern *regexp.Regexp
	code    ErrorCode
}

// messageRules are checked in order; the first match wins.
var messageRules = []messageRule{
	{regexp.MustCompile(`(?i)cancel`), OperationCanceled},
	{regexp.MustCompile(`(?i)permission`), VPNPermissionNotGranted},
	{regexp.MustCompile(`(?i)unauthenticated|unauthorized|authentication failed`), Unauthenticated},
	{regexp.MustCompile(`(?i)no such host|resolve`), ResolveIPFailed},
	{regexp.MustCompile(`(?i)udp.*(not supported|unsupported)`), ProxyServerUDPUnsupported},
	{regexp.MustCompile(`(?i)unreachable|connection refused|timed out|timeout`), ProxyServerUnreachable},
	{regexp.MustCompile(`(?i)failed.*setup.*vpn|vpn.*setup.*fail`), SystemVPNSetupFailed},
	{regexp.MustCompile(`(?i)config`), InvalidConfig},
}

// GuessCode classifies a free-text error message by substring matching.
//
// This is lossy: messages are not a stable contract and the same text may
// describe different failures. It exists for diagnostics of engines that
// only report text; [FromBoundary] never uses it.
func GuessCode(message string) ErrorCode {
	for _, rule := range messageRules {
		if rule.pattern.MatchString(message) {
			return rule.code
		}
	}
	return InternalError
}
