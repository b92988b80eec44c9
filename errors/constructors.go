package errors

// Predefined errors for use with Is().
var (
	ErrUnknown           = New(ERR_UNKNOWN, "unknown error")
	ErrInvalidArgument   = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrContextCanceled   = New(ERR_CONTEXT_CANCELED, "context canceled")
	ErrConfiguration     = New(ERR_CONFIGURATION, "configuration error")
	ErrFatal             = New(ERR_FATAL, "fatal error")
	ErrHandshakeTimeout  = New(ERR_HANDSHAKE_TIMEOUT, "handshake timed out")
	ErrInvalidCert       = New(ERR_HANDSHAKE_INVALID_CERT, "invalid certificate")
	ErrCertExpired       = New(ERR_HANDSHAKE_CERT_EXPIRED, "certificate outside validity window")
	ErrNonceExhausted    = New(ERR_NONCE_EXHAUSTED, "cipher state nonce exhausted")
	ErrAEADFailure       = New(ERR_TRANSPORT_AEAD, "AEAD open/seal failed")
	ErrUnexpectedMessage = New(ERR_PROTOCOL_UNEXPECTED_MESSAGE, "unexpected message for peer phase")
	ErrUnknownMessage    = New(ERR_PROTOCOL_UNKNOWN_MESSAGE, "unknown message type")
	ErrTooManyPeers      = New(ERR_TOO_MANY_PEERS, "maximum peer count exceeded")
	ErrSlowConsumer      = New(ERR_SLOW_CONSUMER, "peer send buffer exceeded cap")
	ErrTemplateNotFound  = New(ERR_TEMPLATE_NOT_FOUND, "template_id not found or expired")
)

func NewUnknownError(message string, params ...interface{}) error {
	return New(ERR_UNKNOWN, message, params...)
}

func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}

func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}

func NewFatalError(message string, params ...interface{}) error {
	return New(ERR_FATAL, message, params...)
}

func NewTransportError(message string, params ...interface{}) error {
	return New(ERR_TRANSPORT, message, params...)
}

func NewAEADError(message string, params ...interface{}) error {
	return New(ERR_TRANSPORT_AEAD, message, params...)
}

func NewFrameTooLargeError(message string, params ...interface{}) error {
	return New(ERR_TRANSPORT_FRAME_TOO_LARGE, message, params...)
}

func NewMalformedLengthError(message string, params ...interface{}) error {
	return New(ERR_TRANSPORT_MALFORMED_LENGTH, message, params...)
}

func NewNonceExhaustedError(message string, params ...interface{}) error {
	return New(ERR_NONCE_EXHAUSTED, message, params...)
}

func NewHandshakeError(message string, params ...interface{}) error {
	return New(ERR_HANDSHAKE, message, params...)
}

func NewHandshakeTimeoutError(message string, params ...interface{}) error {
	return New(ERR_HANDSHAKE_TIMEOUT, message, params...)
}

func NewInvalidCertError(message string, params ...interface{}) error {
	return New(ERR_HANDSHAKE_INVALID_CERT, message, params...)
}

func NewCertExpiredError(message string, params ...interface{}) error {
	return New(ERR_HANDSHAKE_CERT_EXPIRED, message, params...)
}

func NewProtocolError(message string, params ...interface{}) error {
	return New(ERR_PROTOCOL, message, params...)
}

func NewUnexpectedMessageError(message string, params ...interface{}) error {
	return New(ERR_PROTOCOL_UNEXPECTED_MESSAGE, message, params...)
}

func NewUnknownMessageError(message string, params ...interface{}) error {
	return New(ERR_PROTOCOL_UNKNOWN_MESSAGE, message, params...)
}

func NewDecodeError(message string, params ...interface{}) error {
	return New(ERR_PROTOCOL_DECODE, message, params...)
}

func NewUnsupportedVersionError(message string, params ...interface{}) error {
	return New(ERR_PROTOCOL_UNSUPPORTED_VERSION, message, params...)
}

func NewTooManyPeersError(message string, params ...interface{}) error {
	return New(ERR_TOO_MANY_PEERS, message, params...)
}

func NewSlowConsumerError(message string, params ...interface{}) error {
	return New(ERR_SLOW_CONSUMER, message, params...)
}

func NewUpstreamError(message string, params ...interface{}) error {
	return New(ERR_UPSTREAM, message, params...)
}

func NewNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NOT_FOUND, message, params...)
}

func NewTemplateNotFoundError(message string, params ...interface{}) error {
	return New(ERR_TEMPLATE_NOT_FOUND, message, params...)
}
