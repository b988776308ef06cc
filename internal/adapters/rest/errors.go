package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"airc-chat/go-backend/internal/airc"
	"airc-chat/go-backend/internal/domains/keyauth/policy"
	"airc-chat/go-backend/internal/domains/keyauth/ports"
	keyauth "airc-chat/go-backend/internal/domains/keyauth/usecase"
	msggate "airc-chat/go-backend/internal/domains/msggate/usecase"
	"airc-chat/go-backend/pkg/models"
)

// Stable machine-readable reason codes for identity failures. The gate
// defines its own set for message rejections.
const (
	reasonHandleInvalid      = "handle_invalid"
	reasonProofMalformed     = "proof_malformed"
	reasonKeyMalformed       = "key_malformed"
	reasonInvalidSignature   = "invalid_signature"
	reasonStaleTimestamp     = "stale_timestamp"
	reasonHandleMismatch     = "handle_mismatch"
	reasonNonceReused        = "nonce_reused"
	reasonKeyMismatch        = "key_mismatch"
	reasonRecoveryKeyReuse   = "recovery_key_reuse"
	reasonConcurrentRotation = "concurrent_rotation"
	reasonAlreadyRevoked     = "already_revoked"
	reasonSuspended          = "suspended"
	reasonQuarantined        = "quarantined"
	reasonNoRecoveryKey      = "recovery_key_missing"
	reasonNoKeyBound         = "no_key_bound"
	reasonNotFound           = "not_found"
	reasonAlreadyExists      = "already_exists"
	reasonRateLimited        = "rate_limited"
	reasonStoreUnavailable   = "store_unavailable"
	reasonInternal           = "internal_error"
)

type mappedError struct {
	status int
	reason string
}

func classifyIdentityError(err error) mappedError {
	switch {
	case errors.Is(err, policy.ErrHandleInvalid):
		return mappedError{http.StatusBadRequest, reasonHandleInvalid}
	case errors.Is(err, policy.ErrProofSignature):
		return mappedError{http.StatusUnauthorized, reasonInvalidSignature}
	case errors.Is(err, policy.ErrProofTimestamp):
		return mappedError{http.StatusBadRequest, reasonStaleTimestamp}
	case errors.Is(err, policy.ErrProofHandleMismatch):
		return mappedError{http.StatusBadRequest, reasonHandleMismatch}
	case errors.Is(err, policy.ErrProofMalformed),
		errors.Is(err, policy.ErrProofOperation),
		errors.Is(err, policy.ErrProofNonce),
		errors.Is(err, policy.ErrOwnershipProofFormat):
		return mappedError{http.StatusBadRequest, reasonProofMalformed}
	case errors.Is(err, airc.ErrKeyMalformed),
		errors.Is(err, airc.ErrKeyWrongSize),
		errors.Is(err, airc.ErrKeyWrongAlgo),
		errors.Is(err, airc.ErrSignMalformed):
		return mappedError{http.StatusBadRequest, reasonKeyMalformed}
	// Replayed proofs are an authentication failure, not a state
	// conflict: 401 regardless of signature validity.
	case errors.Is(err, keyauth.ErrReplay):
		return mappedError{http.StatusUnauthorized, reasonNonceReused}
	// A stale old_key means the client built its proof against an
	// outdated key, distinct from the 409 race below where the proof
	// was still fresh when checked.
	case errors.Is(err, keyauth.ErrKeyMismatch):
		return mappedError{http.StatusBadRequest, reasonKeyMismatch}
	case errors.Is(err, keyauth.ErrRecoveryKeyReuse):
		return mappedError{http.StatusBadRequest, reasonRecoveryKeyReuse}
	case errors.Is(err, keyauth.ErrConcurrentRotation):
		return mappedError{http.StatusConflict, reasonConcurrentRotation}
	case errors.Is(err, keyauth.ErrAlreadyRevoked):
		return mappedError{http.StatusForbidden, reasonAlreadyRevoked}
	case errors.Is(err, keyauth.ErrSuspended):
		return mappedError{http.StatusForbidden, reasonSuspended}
	case errors.Is(err, keyauth.ErrQuarantined):
		return mappedError{http.StatusForbidden, reasonQuarantined}
	case errors.Is(err, keyauth.ErrRecoveryKeyMissing):
		return mappedError{http.StatusForbidden, reasonNoRecoveryKey}
	case errors.Is(err, keyauth.ErrNoKeyBound):
		return mappedError{http.StatusNotFound, reasonNoKeyBound}
	case errors.Is(err, ports.ErrIdentityNotFound):
		return mappedError{http.StatusNotFound, reasonNotFound}
	case errors.Is(err, ports.ErrIdentityExists):
		return mappedError{http.StatusConflict, reasonAlreadyExists}
	case errors.Is(err, ports.ErrStoreUnavailable):
		return mappedError{http.StatusServiceUnavailable, reasonStoreUnavailable}
	default:
		return mappedError{http.StatusInternalServerError, reasonInternal}
	}
}

func gateStatus(reason string) int {
	switch reason {
	case msggate.ReasonSignatureRequired, msggate.ReasonInvalidSignature:
		return http.StatusUnauthorized
	case msggate.ReasonReplay:
		return http.StatusConflict
	case msggate.ReasonSenderKeyMissing:
		return http.StatusNotFound
	case msggate.ReasonSenderInactive:
		return http.StatusForbidden
	default:
		// invalid_payload, stale_timestamp
		return http.StatusBadRequest
	}
}

func writeIdentityError(w http.ResponseWriter, err error) {
	if rl, ok := keyauth.IsRateLimited(err); ok {
		retryAfter := int(rl.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, models.ErrorResponse{
			Error:      err.Error(),
			Reason:     reasonRateLimited,
			Code:       http.StatusTooManyRequests,
			RetryAfter: retryAfter,
		}, http.StatusTooManyRequests)
		return
	}
	mapped := classifyIdentityError(err)
	msg := err.Error()
	if mapped.status == http.StatusInternalServerError {
		// Do not leak internals.
		msg = "internal server error"
	}
	writeJSON(w, models.ErrorResponse{
		Error:  msg,
		Reason: mapped.reason,
		Code:   mapped.status,
	}, mapped.status)
}

func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode response failed", "error", err.Error())
	}
}

func writeBadRequest(w http.ResponseWriter, reason, msg string) {
	writeJSON(w, models.ErrorResponse{
		Error:  msg,
		Reason: reason,
		Code:   http.StatusBadRequest,
	}, http.StatusBadRequest)
}
