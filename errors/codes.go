package errors

// ERR is the error taxonomy used throughout the template provider. Each family
// maps to one recovery policy: transport and handshake failures disconnect the
// offending peer, upstream failures are retried with backoff, fatal errors abort
// startup.
type ERR int32

const (
	ERR_UNKNOWN ERR = iota
	ERR_INVALID_ARGUMENT
	ERR_CONTEXT
	ERR_CONTEXT_CANCELED
	ERR_CONFIGURATION
	ERR_FATAL

	// Transport errors: AEAD tag mismatch, malformed frame length, nonce
	// exhaustion, unexpected EOF.
	ERR_TRANSPORT
	ERR_TRANSPORT_AEAD
	ERR_TRANSPORT_FRAME_TOO_LARGE
	ERR_TRANSPORT_MALFORMED_LENGTH
	ERR_NONCE_EXHAUSTED

	// HandshakeError: timeout, invalid certificate, clock outside window, unknown
	// version.
	ERR_HANDSHAKE
	ERR_HANDSHAKE_TIMEOUT
	ERR_HANDSHAKE_INVALID_CERT
	ERR_HANDSHAKE_CERT_EXPIRED

	// ProtocolError: unexpected message in current phase, unknown msg_type, oversize
	// payload, decode failure.
	ERR_PROTOCOL
	ERR_PROTOCOL_UNEXPECTED_MESSAGE
	ERR_PROTOCOL_UNKNOWN_MESSAGE
	ERR_PROTOCOL_DECODE
	ERR_PROTOCOL_UNSUPPORTED_VERSION

	// ResourceError: accept beyond max_peers, send_buffer cap exceeded.
	ERR_RESOURCE
	ERR_TOO_MANY_PEERS
	ERR_SLOW_CONSUMER

	// UpstreamError: the Mining capability fails or the IPC link drops.
	ERR_UPSTREAM

	ERR_NOT_FOUND
	ERR_TEMPLATE_NOT_FOUND
)

var errNames = map[ERR]string{
	ERR_UNKNOWN:                     "UNKNOWN",
	ERR_INVALID_ARGUMENT:            "INVALID_ARGUMENT",
	ERR_CONTEXT:                     "CONTEXT",
	ERR_CONTEXT_CANCELED:            "CONTEXT_CANCELED",
	ERR_CONFIGURATION:               "CONFIGURATION",
	ERR_FATAL:                       "FATAL",
	ERR_TRANSPORT:                   "TRANSPORT",
	ERR_TRANSPORT_AEAD:              "TRANSPORT_AEAD",
	ERR_TRANSPORT_FRAME_TOO_LARGE:   "TRANSPORT_FRAME_TOO_LARGE",
	ERR_TRANSPORT_MALFORMED_LENGTH:  "TRANSPORT_MALFORMED_LENGTH",
	ERR_NONCE_EXHAUSTED:             "NONCE_EXHAUSTED",
	ERR_HANDSHAKE:                   "HANDSHAKE",
	ERR_HANDSHAKE_TIMEOUT:           "HANDSHAKE_TIMEOUT",
	ERR_HANDSHAKE_INVALID_CERT:      "HANDSHAKE_INVALID_CERT",
	ERR_HANDSHAKE_CERT_EXPIRED:      "HANDSHAKE_CERT_EXPIRED",
	ERR_PROTOCOL:                    "PROTOCOL",
	ERR_PROTOCOL_UNEXPECTED_MESSAGE: "PROTOCOL_UNEXPECTED_MESSAGE",
	ERR_PROTOCOL_UNKNOWN_MESSAGE:    "PROTOCOL_UNKNOWN_MESSAGE",
	ERR_PROTOCOL_DECODE:             "PROTOCOL_DECODE",
	ERR_PROTOCOL_UNSUPPORTED_VERSION: "PROTOCOL_UNSUPPORTED_VERSION",
	ERR_RESOURCE:                    "RESOURCE",
	ERR_TOO_MANY_PEERS:              "TOO_MANY_PEERS",
	ERR_SLOW_CONSUMER:               "SLOW_CONSUMER",
	ERR_UPSTREAM:                    "UPSTREAM",
	ERR_NOT_FOUND:                   "NOT_FOUND",
	ERR_TEMPLATE_NOT_FOUND:          "TEMPLATE_NOT_FOUND",
}

// String implements fmt.Stringer.
func (e ERR) String() string {
	if name, ok := errNames[e]; ok {
		return name
	}

	return "UNKNOWN"
}

// Enum returns the code's name, used in Error() formatting.
func (e ERR) Enum() string {
	return e.String()
}

func knownCode(code ERR) bool {
	_, ok := errNames[code]
	return ok
}
