package authority

// Rejection reasons reported in the challenge's error field.
const (
	ReasonMissingProof       = "payment_required"
	ReasonMalformedProof     = "invalid_payload"
	ReasonUnsupportedVersion = "invalid_x402_version"
	ReasonUnsupportedScheme  = "unsupported_scheme"
	ReasonWrongNetwork       = "invalid_network"
	ReasonWrongRecipient     = "recipient_mismatch"
	ReasonWrongAmount        = "amount_mismatch"
	ReasonWrongAsset         = "asset_mismatch"
	ReasonWrongResource      = "resource_mismatch"
	ReasonBadSignature       = "invalid_signature"
	ReasonNotYetValid        = "authorization_not_yet_valid"
	ReasonExpired            = "authorization_expired"
	ReasonWindowTooLong      = "authorization_window_too_long"
	ReasonReplayed           = "nonce_already_used"
)

// Rejection is a payment the authority refused to settle.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return "payment rejected: " + r.Reason
}

func reject(reason string) *Rejection {
	return &Rejection{Reason: reason}
}
