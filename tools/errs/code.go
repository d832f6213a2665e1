package errs

import "net/http"

// Protocol errors.
const (
	InvalidEncodingCode      = 1001
	MissingDiscriminatorCode = 1002
	UnknownVariantCode       = 1003
)

// Sequencing errors.
const (
	MissingUserIDCode    = 1101
	NotRegisteredCode    = 1102
	UnknownEventTypeCode = 1103
	InvalidEnvelopeCode  = 1104
)

// Infrastructure errors.
const (
	ServerInternalError     = 1200
	RegistryUnavailableCode = 1201
	PublishFailedCode       = 1202
	DeliveryFailedCode      = 1301
)

var (
	ErrInvalidEncoding      = NewCodeError(InvalidEncodingCode, "Invalid message encoding")
	ErrMissingDiscriminator = NewCodeError(MissingDiscriminatorCode, "Invalid message format")
	ErrUnknownVariant       = NewCodeError(UnknownVariantCode, "Unknown message type")

	ErrMissingUserID    = NewCodeError(MissingUserIDCode, "Missing user_id query parameter")
	ErrNotRegistered    = NewCodeError(NotRegisteredCode, "Not registered")
	ErrUnknownEventType = NewCodeError(UnknownEventTypeCode, "Unknown event type")
	ErrInvalidEnvelope  = NewCodeError(InvalidEnvelopeCode, "Invalid delivery envelope")

	ErrInternal            = NewCodeError(ServerInternalError, "Internal error")
	ErrRegistryUnavailable = NewCodeError(RegistryUnavailableCode, "Registry unavailable")
	ErrPublishFailed       = NewCodeError(PublishFailedCode, "Failed to broadcast message")
	ErrDeliveryFailed      = NewCodeError(DeliveryFailedCode, "Delivery failed")
)

// HTTPStatus maps err to the status code of the gateway reply.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	code := Code(err)
	switch {
	case code >= 1000 && code < 1200:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
