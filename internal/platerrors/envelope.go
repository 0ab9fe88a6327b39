package platerrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// envelope is the wire format of a [PlatformError].
type envelope struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	DetailsJSON string    `json:"detailsJson,omitempty"`
}

// ErrBadEnvelope indicates that a string is not a valid error envelope.
var ErrBadEnvelope = errors.New("platerrors: bad envelope")

// jsonMarshal is overridden in tests to exercise the fallback path.
var jsonMarshal = json.Marshal

// MarshalJSON implements json.Marshaler.
func (e *PlatformError) MarshalJSON() ([]byte, error) {
	return jsonMarshal(envelope{
		Code:        e.Code,
		Message:     e.Message,
		DetailsJSON: e.DetailsJSON,
	})
}

// ToEnvelope serializes any error into the JSON envelope. The result always
// contains the "code" and "message" keys. Errors that are not (and do not
// wrap) a [PlatformError] are classified with [FromBoundary], so structured
// codes embedded in the message survive and everything else becomes
// [InternalError] with the error's own description.
func ToEnvelope(err error) string {
	pe := FromBoundary(err)
	data, jerr := pe.MarshalJSON()
	if jerr != nil {
		return fallbackEnvelope(pe.Code, pe.Message)
	}
	return string(data)
}

// fallbackEnvelope builds the envelope by hand when the JSON encoder fails.
func fallbackEnvelope(code ErrorCode, message string) string {
	if !code.IsValid() {
		code = InternalError
	}
	return fmt.Sprintf(`{"code":%s,"message":%s}`, quoteJSON(string(code)), quoteJSON(message))
}

// quoteJSON quotes s as a JSON string using only \" \\ and \u escapes.
func quoteJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			b.WriteString(`\"`)
		case r == '\\':
			b.WriteString(`\\`)
		case r < 0x20 || r == utf8.RuneError:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// ParseEnvelope strictly decodes an envelope: s must be a JSON object whose
// "code" is a member of the closed enumeration and whose "message" is a string.
func ParseEnvelope(s string) (*PlatformError, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadEnvelope, err.Error())
	}
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadEnvelope, err.Error())
	}
	if !env.Code.IsValid() {
		return nil, fmt.Errorf("%w: unknown code %q", ErrBadEnvelope, env.Code)
	}
	if _, ok := raw["message"]; !ok {
		return nil, fmt.Errorf("%w: missing message", ErrBadEnvelope)
	}
	return &PlatformError{
		Code:        env.Code,
		Message:     env.Message,
		DetailsJSON: env.DetailsJSON,
	}, nil
}
