package transport

import (
	"errors"
	"net/http"

	"github.com/nucypher/taco/common/errs"
)

// statusForError maps a node error onto the HTTP status table this
// protocol's callers rely on to tell a condition-not-yet-satisfied result
// apart from a genuine failure, without parsing the response body.
func statusForError(err error) int {
	switch {
	case errs.Is(err, errs.CodeMalformedRequest), errs.Is(err, errs.CodeUnsupportedVersion):
		return http.StatusBadRequest
	case errs.Is(err, errs.CodeSignature):
		return http.StatusUnauthorized
	case errs.Is(err, errs.CodeUnpaid):
		return http.StatusPaymentRequired
	case errs.Is(err, errs.CodeAEAD), errs.Is(err, errs.CodeKfragVerification):
		return http.StatusForbidden
	case errs.Is(err, errs.CodeUnknownRitual), errs.Is(err, errs.CodeUnknownPolicy), errs.Is(err, errs.CodeRevoked):
		return http.StatusNotFound
	case errs.Is(err, errs.CodeConditionFalse), errs.Is(err, errs.CodeConditionError):
		return http.StatusPreconditionRequired // 428
	case errs.IsKind(err, errs.KindState):
		return http.StatusServiceUnavailable
	case errs.IsKind(err, errs.KindCrypto), errs.IsKind(err, errs.KindAuthorization):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// codeNameForError extracts the errs.Code name carried by err, for the
// per-code failure counters in internal/metrics; "unknown" for an error
// that never went through the errs taxonomy.
func codeNameForError(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Code.Name
	}
	return "unknown"
}
