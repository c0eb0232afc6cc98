package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindState      Kind = "state"
	KindRiskLimit  Kind = "risk_limit"
	KindUpstream   Kind = "upstream"
)

// Error is a business rejection. Infrastructure failures are plain wrapped
// errors and never use this type.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code, msg string) *Error { return New(KindValidation, code, msg) }
func NotFound(code, msg string) *Error   { return New(KindNotFound, code, msg) }
func State(code, msg string) *Error      { return New(KindState, code, msg) }
func Upstream(code, msg string) *Error   { return New(KindUpstream, code, msg) }

// As returns the business error wrapped in err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the stable code of err, or "internal".
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return "internal"
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindState:
		return http.StatusConflict
	case KindRiskLimit:
		return http.StatusUnprocessableEntity
	case KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Codes shared across the engine.
const (
	CodeInvalidSide          = "invalid_side"
	CodeInvalidQuantity      = "invalid_quantity"
	CodeInvalidLeverage      = "invalid_leverage"
	CodeInvalidOrderType     = "invalid_order_type"
	CodeInvalidBracket       = "invalid_bracket"
	CodePriceRequired        = "price_required"
	CodeMissingField         = "missing_field"
	CodeCompetitionNotFound  = "competition_not_found"
	CodeCompetitionNotLive   = "competition_not_live"
	CodeInstrumentNotAllowed = "instrument_not_allowed"
	CodeInstrumentNotFound   = "instrument_not_found"
	CodeLeverageExceeded     = "leverage_exceeded"
	CodeParticipantNotFound  = "participant_not_found"
	CodeParticipantInactive  = "participant_inactive"
	CodeAccountNotFound      = "account_not_found"
	CodeAccountFrozen        = "account_frozen"
	CodeAccountInactive      = "account_inactive"
	CodePositionNotFound     = "position_not_found"
	CodePositionClosed       = "position_closed"
	CodePositionSizeLimit    = "position_size_limit"
	CodeInsufficientMargin   = "insufficient_margin"
	CodePriceUnavailable     = "price_unavailable"
)
