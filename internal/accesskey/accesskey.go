// Package accesskey parses Shadowsocks access keys ("ss://" URLs) into
// validated connection descriptors.
//
// The accepted format is
//
//	ss://base64(method:password)@host:port[/][?query][#tag]
//
// Query parameters are accepted and ignored. Parsing is a pure function of
// the input: it performs no I/O and, in particular, never checks whether the
// server is reachable.
package accesskey

import (
	"encoding/base64"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/ooni/sscontrol/internal/platerrors"
)

// Scheme is the prefix every access key must start with.
const Scheme = "ss://"

// AccessKey is a validated connection descriptor. Values are only created by
// [Parse] (or [New]) and are never partially valid.
type AccessKey struct {
	// Scheme is always [Scheme].
	Scheme string

	// Method is the cipher (e.g., chacha20-ietf-poly1305).
	Method string

	// Password is the shared secret. It may contain any byte, including ':'.
	Password string

	// Host is the server hostname or IP literal.
	Host string

	// Port is the server port, in [1, 65535].
	Port int

	// Tag is the optional human-readable name after '#'.
	Tag string

	// Raw is the original input.
	Raw string
}

// Parse validates raw and returns the corresponding [AccessKey]. On failure
// the error is a *platerrors.PlatformError whose code tells which step failed:
// MissingScheme, MissingCredentialSeparator, CredentialDecodeError,
// MissingCredentialDelimiter, MissingPort, InvalidPort, or InvalidConfig for
// an empty method or host.
func Parse(raw string) (*AccessKey, error) {
	if !strings.HasPrefix(raw, Scheme) {
		return nil, platerrors.New(platerrors.MissingScheme, "access key must start with "+Scheme)
	}
	rest := raw[len(Scheme):]

	userInfo, server, found := strings.Cut(rest, "@")
	if !found {
		return nil, platerrors.New(platerrors.MissingCredentialSeparator, "access key has no '@' separator")
	}

	method, password, err := decodeUserInfo(userInfo)
	if err != nil {
		return nil, err
	}

	server, tag, err := splitTag(server)
	if err != nil {
		return nil, err
	}
	if idx := strings.IndexByte(server, '?'); idx >= 0 {
		server = server[:idx]
	}
	server = strings.TrimSuffix(server, "/")

	host, port, err := splitHostPort(server)
	if err != nil {
		return nil, err
	}

	return New(method, password, host, port, tag, raw)
}

// New builds an [AccessKey] from its parts, enforcing the same invariants as
// [Parse]. When raw is empty it is set to the canonical encoding.
func New(method, password, host string, port int, tag, raw string) (*AccessKey, error) {
	if method == "" {
		return nil, platerrors.New(platerrors.InvalidConfig, "empty method")
	}
	if host == "" {
		return nil, platerrors.New(platerrors.InvalidConfig, "empty host")
	}
	if port <= 0 || port > 65535 {
		return nil, platerrors.Newf(platerrors.InvalidPort, "port %d out of range", port)
	}
	key := &AccessKey{
		Scheme:   Scheme,
		Method:   method,
		Password: password,
		Host:     host,
		Port:     port,
		Tag:      tag,
		Raw:      raw,
	}
	if key.Raw == "" {
		key.Raw = key.Encode()
	}
	return key, nil
}

// decodeUserInfo decodes the base64 credentials and splits them on the
// first ':'. Missing padding is tolerated; any other malformed input is not.
func decodeUserInfo(userInfo string) (string, string, error) {
	enc := base64.StdEncoding
	if !strings.Contains(userInfo, "=") && len(userInfo)%4 != 0 {
		enc = base64.RawStdEncoding
	}
	decoded, err := enc.DecodeString(userInfo)
	if err != nil {
		return "", "", platerrors.Wrap(platerrors.CredentialDecodeError, err)
	}
	method, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", platerrors.New(platerrors.MissingCredentialDelimiter, "decoded credentials have no ':' delimiter")
	}
	return method, password, nil
}

func splitTag(server string) (string, string, error) {
	server, frag, found := strings.Cut(server, "#")
	if !found {
		return server, "", nil
	}
	tag, err := url.PathUnescape(frag)
	if err != nil {
		return "", "", platerrors.Wrap(platerrors.InvalidConfig, err)
	}
	return server, tag, nil
}

// splitHostPort splits on the first ':' except for bracketed IPv6 literals.
func splitHostPort(server string) (string, int, error) {
	var host, portStr string
	if strings.HasPrefix(server, "[") {
		end := strings.IndexByte(server, ']')
		if end < 0 {
			return "", 0, platerrors.New(platerrors.InvalidConfig, "unterminated IPv6 literal")
		}
		host = server[1:end]
		after := server[end+1:]
		if !strings.HasPrefix(after, ":") {
			return "", 0, platerrors.New(platerrors.MissingPort, "server has no port")
		}
		portStr = after[1:]
	} else {
		var found bool
		host, portStr, found = strings.Cut(server, ":")
		if !found {
			return "", 0, platerrors.New(platerrors.MissingPort, "server has no port")
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, platerrors.Newf(platerrors.InvalidPort, "invalid port %q", portStr)
	}
	if port <= 0 || port > 65535 {
		return "", 0, platerrors.Newf(platerrors.InvalidPort, "port %d out of range", port)
	}
	return host, port, nil
}

// Address returns host:port, bracketing IPv6 literals.
func (k *AccessKey) Address() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
}

// Encode returns the canonical access key for k.
func (k *AccessKey) Encode() string {
	creds := base64.StdEncoding.EncodeToString([]byte(k.Method + ":" + k.Password))
	s := Scheme + creds + "@" + k.Address()
	if k.Tag != "" {
		s += "#" + url.PathEscape(k.Tag)
	}
	return s
}

// String implements fmt.Stringer without revealing the password.
func (k *AccessKey) String() string {
	return Scheme + k.Method + ":***@" + k.Address()
}

// EngineConfig is the JSON configuration passed to the tunnel engine.
type EngineConfig struct {
	Method   string `json:"method"`
	Password string `json:"password"`
	Server   string `json:"server"`
	Port     int    `json:"port"`
}

// EngineConfig returns the engine configuration for k.
func (k *AccessKey) EngineConfig() EngineConfig {
	return EngineConfig{
		Method:   k.Method,
		Password: k.Password,
		Server:   k.Host,
		Port:     k.Port,
	}
}
