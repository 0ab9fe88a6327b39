package platerrors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Keys used by the native side when it stores an envelope inside a generic
// error carrier (an NSError userInfo dictionary).
const (
	userInfoCodeKey = "DetailedJsonError_ErrorCode"
	userInfoJSONKey = "OutlineJsonError_JsonDetails"
)

// FromBoundary converts whatever the tunnel engine or the OS VPN API returned
// into a [PlatformError]. It never panics and never returns nil: anything it
// cannot classify becomes [InternalError], keeping the best available
// description in Message and the original payload in DetailsJSON.
//
// Accepted shapes: nil, *PlatformError, PlatformError, error values (wrapped
// platform errors are found with errors.As), JSON envelopes as string,
// []byte or json.RawMessage, map[string]any payloads (optionally carrying a
// "userInfo" dictionary), and any JSON-encodable value.
func FromBoundary(v any) (pe *PlatformError) {
	defer func() {
		if r := recover(); r != nil {
			pe = New(InternalError, "unclassifiable error: "+describePanic(r))
		}
	}()
	switch x := v.(type) {
	case nil:
		return New(InternalError, "unknown error")
	case *PlatformError:
		if x == nil {
			return New(InternalError, "unknown error")
		}
		return normalize(x)
	case PlatformError:
		return normalize(&x)
	case error:
		return fromError(x)
	case string:
		return fromText(x)
	case []byte:
		return fromText(string(x))
	case json.RawMessage:
		return fromText(string(x))
	case map[string]any:
		return fromMap(x)
	case fmt.Stringer:
		return fromText(x.String())
	default:
		return fromValue(x)
	}
}

func describePanic(r any) string {
	switch x := r.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return fmt.Sprintf("panic of type %T", r)
	}
}

// normalize makes sure the code is a member of the closed enumeration.
func normalize(e *PlatformError) *PlatformError {
	if e.Code.IsValid() {
		return e
	}
	c := *e
	if c.DetailsJSON == "" {
		c.DetailsJSON = string(mustMarshalString(string(e.Code)))
	}
	c.Code = InternalError
	if c.Message == "" {
		c.Message = fmt.Sprintf("unrecognized error code %q", e.Code)
	}
	return &c
}

func fromError(err error) *PlatformError {
	var pe *PlatformError
	if errors.As(err, &pe) && pe != nil {
		return normalize(pe)
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(OperationCanceled, err)
	}
	msg := err.Error()
	if parsed, ok := tryParseJSONObject(msg); ok {
		out := fromMap(parsed)
		return out.WithCause(err)
	}
	return Wrap(InternalError, err)
}

func fromText(s string) *PlatformError {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return New(InternalError, "unknown error")
	}
	if pe, err := ParseEnvelope(trimmed); err == nil {
		return pe
	}
	if parsed, ok := tryParseJSONObject(trimmed); ok {
		return fromMap(parsed)
	}
	return New(InternalError, trimmed)
}

func fromValue(v any) *PlatformError {
	data, err := json.Marshal(v)
	if err != nil {
		return New(InternalError, unencodable(v))
	}
	if parsed, ok := tryParseJSONObject(string(data)); ok {
		return fromMap(parsed)
	}
	return &PlatformError{
		Code:        InternalError,
		Message:     string(data),
		DetailsJSON: string(data),
	}
}

// fromMap extracts code, message and details from a decoded JSON object.
func fromMap(m map[string]any) *PlatformError {
	if userInfo, ok := m["userInfo"].(map[string]any); ok {
		if pe := fromUserInfo(userInfo); pe != nil {
			return pe
		}
	}
	if pe := fromUserInfo(m); pe != nil {
		return pe
	}

	code := ErrorCode(stringField(m, "code"))
	message := firstString(m, "message", "localizedDescription", "error", "statusText")
	details := stringField(m, "detailsJson")
	if details == "" {
		if d, ok := m["details"]; ok && d != nil {
			details = string(mustMarshal(d))
		}
	}

	if code.IsValid() {
		if message == "" {
			message = string(code)
		}
		return &PlatformError{Code: code, Message: message, DetailsJSON: details}
	}

	// Unknown or missing code: keep the whole payload for diagnostics.
	if message == "" {
		message = "unrecognized error payload"
	}
	return &PlatformError{
		Code:        InternalError,
		Message:     message,
		DetailsJSON: string(mustMarshal(m)),
	}
}

// fromUserInfo handles the native error carrier layout where the envelope is
// stored as a JSON string next to its code. It returns nil when m does not
// use that layout.
func fromUserInfo(m map[string]any) *PlatformError {
	raw, ok := m[userInfoJSONKey].(string)
	if !ok {
		return nil
	}
	code := ErrorCode(stringField(m, userInfoCodeKey))
	inner := fromText(raw)
	if inner.Code == InternalError && code.IsValid() {
		return &PlatformError{
			Code:        code,
			Message:     firstNonEmpty(inner.Message, string(code)),
			DetailsJSON: raw,
		}
	}
	return inner
}

func tryParseJSONObject(s string) (map[string]any, bool) {
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return mustMarshalString(unencodable(v))
	}
	return data
}

// unencodable describes a value json cannot encode. It only looks at the
// type: formatting the value itself may not terminate (e.g., cyclic maps).
func unencodable(v any) string {
	return fmt.Sprintf("unencodable %T", v)
}

func mustMarshalString(s string) []byte {
	return []byte(quoteJSON(s))
}
