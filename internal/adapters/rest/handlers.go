package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	keyauthmodel "airc-chat/go-backend/internal/domains/keyauth/model"
	msggate "airc-chat/go-backend/internal/domains/msggate/usecase"
	"airc-chat/go-backend/pkg/models"
)

const (
	enforcementPhaseHeader   = "X-AIRC-Enforcement-Phase"
	enforcementCutoverHeader = "X-AIRC-Enforcement-Cutover"

	maxProofBody   = 16 << 10
	maxMessageBody = 64 << 10
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, models.HealthResponse{Status: "healthy", Version: s.version}, http.StatusOK)
}

// POST /api/v1/identity/{handle}
func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	identity, err := s.identity.ProvisionAccount(chi.URLParam(r, "handle"))
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	writeJSON(w, models.ProvisionResponse{
		Handle:    identity.Handle,
		Status:    string(identity.Status),
		CreatedAt: identity.CreatedAt,
	}, http.StatusCreated)
}

// POST /api/v1/identity/{handle}/key
func (s *Server) handleRegisterKey(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterKeyRequest
	if err := decodeJSON(r, maxProofBody, &req); err != nil {
		writeBadRequest(w, reasonProofMalformed, "request body is not valid JSON")
		return
	}
	result, err := s.identity.RegisterKey(
		chi.URLParam(r, "handle"), req.PublicKey, req.Proof, req.RecoveryKey, requestOrigin(r))
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	writeJSON(w, models.RegisterKeyResponse{
		Handle:     result.Handle,
		KeyChanged: result.KeyChanged,
	}, http.StatusOK)
}

// POST /api/v1/identity/{handle}/rotate
// The request body is the signed rotation proof itself.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxProofBody))
	if err != nil {
		writeBadRequest(w, reasonProofMalformed, "unable to read request body")
		return
	}
	result, err := s.identity.Rotate(chi.URLParam(r, "handle"), raw, requestOrigin(r))
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	writeJSON(w, models.RotateResponse{
		Handle:    result.Handle,
		NewKey:    result.NewKey,
		RotatedAt: result.RotatedAt,
	}, http.StatusOK)
}

// POST /api/v1/identity/{handle}/revoke
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxProofBody))
	if err != nil {
		writeBadRequest(w, reasonProofMalformed, "unable to read request body")
		return
	}
	result, err := s.identity.Revoke(chi.URLParam(r, "handle"), raw, requestOrigin(r))
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	writeJSON(w, models.RevokeResponse{
		Handle:    result.Handle,
		Status:    string(keyauthmodel.StatusRevoked),
		RevokedAt: result.RevokedAt,
	}, http.StatusOK)
}

// GET /api/v1/identity/{handle}/key
func (s *Server) handleResolveKey(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	key, status, err := s.identity.ResolveKey(handle)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	writeJSON(w, models.ResolveKeyResponse{
		Handle:    handle,
		PublicKey: key,
		Status:    string(status),
	}, http.StatusOK)
}

// GET /api/v1/identity/{handle}/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.identity.HandleStatus(chi.URLParam(r, "handle"))
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	writeJSON(w, models.HandleStatusResponse{
		Handle:      state.Handle,
		Status:      string(state.Status),
		Active:      state.Active,
		Quarantined: state.Quarantined,
	}, http.StatusOK)
}

// POST /api/v1/messages
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	s.setEnforcementHeaders(w)

	var req models.SendMessageRequest
	if err := decodeJSON(r, maxMessageBody, &req); err != nil {
		writeBadRequest(w, msggate.ReasonInvalidPayload, "request body is not valid JSON")
		return
	}

	decision, err := s.gate.Submit(keyauthmodel.SignedMessage{
		From:      req.From,
		To:        req.To,
		Body:      req.Body,
		Timestamp: req.Timestamp,
		Nonce:     req.Nonce,
		Signature: req.Signature,
	})
	if err != nil {
		if reason, ok := msggate.RejectionReason(err); ok {
			status := gateStatus(reason)
			writeJSON(w, models.ErrorResponse{
				Error:  err.Error(),
				Reason: reason,
				Code:   status,
			}, status)
			return
		}
		writeJSON(w, models.ErrorResponse{
			Error:  "message delivery failed",
			Reason: reasonInternal,
			Code:   http.StatusInternalServerError,
		}, http.StatusInternalServerError)
		return
	}

	writeJSON(w, models.SendMessageResponse{
		Accepted: decision.Accepted,
		Signed:   decision.Signed,
		Warnings: decision.Warnings,
	}, http.StatusAccepted)
}

// The phase header comes from the gate's own clock so it cannot
// disagree with the decision made for the same request.
func (s *Server) setEnforcementHeaders(w http.ResponseWriter) {
	w.Header().Set(enforcementPhaseHeader, string(s.gate.PhaseNow()))
	if cutover := s.gate.Enforcement().CutoverAt; !cutover.IsZero() {
		w.Header().Set(enforcementCutoverHeader, cutover.UTC().Format(time.RFC3339))
	}
}

func decodeJSON(r *http.Request, limit int64, v any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	return dec.Decode(v)
}
