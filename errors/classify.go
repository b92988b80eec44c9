package errors

// IsFatal reports whether err should abort process startup: refuse to start,
// exit non-zero.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var tErr *Error
	if As(err, &tErr) {
		return tErr.Code() == ERR_FATAL
	}

	return false
}

// IsUpstreamError reports whether err originated from the Mining capability or the
// IPC link. The recovery is to log and retry with exponential backoff, never to
// disconnect peers (they keep their last pushed template).
func IsUpstreamError(err error) bool {
	if err == nil {
		return false
	}

	var tErr *Error
	if As(err, &tErr) {
		return tErr.Code() == ERR_UPSTREAM
	}

	return false
}

// DisconnectsPeer reports whether err belongs to one of the categories whose recovery
// is to disconnect the peer (Transport, Handshake, Protocol, Resource).
func DisconnectsPeer(err error) bool {
	if err == nil {
		return false
	}

	var tErr *Error
	if !As(err, &tErr) {
		return false
	}

	switch tErr.Code() {
	case ERR_TRANSPORT, ERR_TRANSPORT_AEAD, ERR_TRANSPORT_FRAME_TOO_LARGE, ERR_TRANSPORT_MALFORMED_LENGTH,
		ERR_NONCE_EXHAUSTED,
		ERR_HANDSHAKE, ERR_HANDSHAKE_TIMEOUT, ERR_HANDSHAKE_INVALID_CERT, ERR_HANDSHAKE_CERT_EXPIRED,
		ERR_PROTOCOL, ERR_PROTOCOL_UNEXPECTED_MESSAGE, ERR_PROTOCOL_UNKNOWN_MESSAGE, ERR_PROTOCOL_DECODE, ERR_PROTOCOL_UNSUPPORTED_VERSION,
		ERR_RESOURCE, ERR_TOO_MANY_PEERS, ERR_SLOW_CONSUMER:
		return true
	default:
		return false
	}
}

// ShouldReplyWithSetupConnectionError reports whether the protocol violation occurred
// before the peer subscribed, in which case a SETUP_CONNECTION_ERROR may be sent
// before disconnecting.
func ShouldReplyWithSetupConnectionError(err error, subscribed bool) bool {
	if subscribed {
		return false
	}

	var tErr *Error
	if !As(err, &tErr) {
		return false
	}

	switch tErr.Code() {
	case ERR_PROTOCOL, ERR_PROTOCOL_UNEXPECTED_MESSAGE, ERR_PROTOCOL_UNKNOWN_MESSAGE, ERR_PROTOCOL_DECODE, ERR_PROTOCOL_UNSUPPORTED_VERSION:
		return true
	default:
		return false
	}
}
