// Package platerrors contains the closed set of error codes shared by the
// control plane and the native tunnel engine, the [PlatformError] type, and
// the JSON envelope used to carry errors across the native boundary.
package platerrors

// ErrorCode is a stable identifier of an error kind. Callers should branch
// on the code, never on the message.
type ErrorCode string

// Common error codes - general.
const (
	// InternalError is the fallback for anything we cannot classify.
	InternalError ErrorCode = "ERR_INTERNAL_ERROR"

	// OperationCanceled means the user or the caller canceled the operation.
	OperationCanceled ErrorCode = "ERR_OPERATION_CANCELED_BY_USER"
)

// Common error codes - network.
const (
	ResolveIPFailed ErrorCode = "ERR_RESOLVE_IP_FAILURE"
)

// Common error codes - I/O device.
const (
	TrafficHandlerSetupFailed ErrorCode = "ERR_TRAFFIC_HANDLER_SETUP_FAILURE"
	VPNPermissionNotGranted   ErrorCode = "ERR_VPN_PERMISSION_NOT_GRANTED"
	SystemVPNSetupFailed      ErrorCode = "ERR_SYSTEM_VPN_SETUP_FAILURE"
	SystemVPNDisconnectFailed ErrorCode = "ERR_SYSTEM_VPN_DISCONNECT_FAILURE"
	DataTransmissionFailed    ErrorCode = "ERR_DATA_TRANSMISSION_FAILURE"
)

// Business logic error codes - proxy server.
const (
	ProxyServerUnreachable    ErrorCode = "ERR_PROXY_SERVER_UNREACHABLE"
	ProxyServerWriteFailed    ErrorCode = "ERR_PROXY_SERVER_WRITE_FAILURE"
	ProxyServerReadFailed     ErrorCode = "ERR_PROXY_SERVER_READ_FAILURE"
	Unauthenticated           ErrorCode = "ERR_CLIENT_UNAUTHENTICATED"
	ProxyServerUDPUnsupported ErrorCode = "ERR_PROXY_SERVER_UDP_NOT_SUPPORTED"
)

// Business logic error codes - config.
const (
	FetchConfigFailed ErrorCode = "ERR_FETCH_CONFIG_FAILURE"
	ProviderError     ErrorCode = "ERR_PROVIDER"
	InvalidConfig     ErrorCode = "ERR_INVALID_CONFIG"
)

// Client-local error codes - access key parsing.
const (
	MissingScheme              ErrorCode = "ERR_MISSING_SCHEME"
	MissingCredentialSeparator ErrorCode = "ERR_MISSING_CREDENTIAL_SEPARATOR"
	CredentialDecodeError      ErrorCode = "ERR_CREDENTIAL_DECODE_FAILURE"
	MissingCredentialDelimiter ErrorCode = "ERR_MISSING_CREDENTIAL_DELIMITER"
	MissingPort                ErrorCode = "ERR_MISSING_PORT"
	InvalidPort                ErrorCode = "ERR_INVALID_PORT"
)

// Client-local error codes - controller.
const (
	// OperationInProgress is returned when a connect or disconnect request
	// arrives while another engine call is still running.
	OperationInProgress ErrorCode = "ERR_OPERATION_IN_PROGRESS"
)

// allCodes is the closed enumeration, in declaration order.
var allCodes = []ErrorCode{
	InternalError,
	OperationCanceled,
	ResolveIPFailed,
	TrafficHandlerSetupFailed,
	VPNPermissionNotGranted,
	SystemVPNSetupFailed,
	SystemVPNDisconnectFailed,
	DataTransmissionFailed,
	ProxyServerUnreachable,
	ProxyServerWriteFailed,
	ProxyServerReadFailed,
	Unauthenticated,
	ProxyServerUDPUnsupported,
	FetchConfigFailed,
	ProviderError,
	InvalidConfig,
	MissingScheme,
	MissingCredentialSeparator,
	CredentialDecodeError,
	MissingCredentialDelimiter,
	MissingPort,
	InvalidPort,
	OperationInProgress,
}

var knownCodes = func() map[ErrorCode]bool {
	m := make(map[ErrorCode]bool, len(allCodes))
	for _, c := range allCodes {
		m[c] = true
	}
	return m
}()

// AllCodes returns a copy of the closed enumeration of error codes.
func AllCodes() []ErrorCode {
	out := make([]ErrorCode, len(allCodes))
	copy(out, allCodes)
	return out
}

// IsValid returns whether c belongs to the closed enumeration.
func (c ErrorCode) IsValid() bool {
	return knownCodes[c]
}

// IsParseFailure returns whether c is one of the access key parse failures.
func (c ErrorCode) IsParseFailure() bool {
	switch c {
	case MissingScheme, MissingCredentialSeparator, CredentialDecodeError,
		MissingCredentialDelimiter, MissingPort, InvalidPort:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (c ErrorCode) String() string {
	return string(c)
}
