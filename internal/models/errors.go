package models

import "errors"

var (
	ErrInvalidPin         = errors.New("invalid pin")
	ErrExpiredPin         = errors.New("pin expired")
	ErrAlreadyConsumedPin = errors.New("pin already consumed")
	ErrDuplicateMobileID  = errors.New("duplicate mobile id")
	ErrUnknownMobile      = errors.New("unknown mobile")
	ErrEndpointArmFailure = errors.New("endpoint arm failure")
	ErrTransportFault     = errors.New("transport fault")
	ErrNotConnected       = errors.New("broker not connected")
	ErrRateLimited        = errors.New("too many pairing attempts")
	ErrIllegalTransition  = errors.New("illegal status transition")
	ErrConnectInterrupted = errors.New("connect interrupted by disconnect")
)

// Error codes shared by the control API and the mobile protocol.
const (
	CodeInvalidPin         = "invalid_pin"
	CodeExpiredPin         = "expired_pin"
	CodeAlreadyConsumedPin = "already_consumed_pin"
	CodeDuplicateMobileID  = "duplicate_mobile_id"
	CodeUnknownMobile      = "unknown_mobile"
	CodeEndpointArmFailure = "endpoint_arm_failure"
	CodeTransportFault     = "transport_fault"
	CodeNotConnected       = "not_connected"
	CodeRateLimited        = "rate_limited"
	CodeIllegalTransition  = "illegal_transition"
	CodeInterrupted        = "interrupted"
	CodeInternal           = "internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidPin, CodeInvalidPin},
	{ErrExpiredPin, CodeExpiredPin},
	{ErrAlreadyConsumedPin, CodeAlreadyConsumedPin},
	{ErrDuplicateMobileID, CodeDuplicateMobileID},
	{ErrUnknownMobile, CodeUnknownMobile},
	{ErrEndpointArmFailure, CodeEndpointArmFailure},
	{ErrTransportFault, CodeTransportFault},
	{ErrNotConnected, CodeNotConnected},
	{ErrRateLimited, CodeRateLimited},
	{ErrIllegalTransition, CodeIllegalTransition},
	{ErrConnectInterrupted, CodeInterrupted},
}

// ErrorCode maps err (or anything wrapping it) to its stable code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}
