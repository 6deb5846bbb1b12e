package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"openbap/go-backend/internal/protocol"
	"openbap/go-backend/internal/signing"
)

const maxCallbackBody = 1 << 20

// applyFunc records one parsed callback into the correlation engine.
type applyFunc func(r *http.Request, env *protocol.Envelope) error

// callbackHandler wraps the shared callback contract around an applyFunc:
// always answer the acknowledgment envelope, never let a correlation failure
// poison the sender's retry loop.
func (s *Server) callbackHandler(action string, apply applyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
		if err != nil {
			s.metrics.CallbacksTotal.WithLabelValues(action, "nack").Inc()
			writeJSON(w, http.StatusBadRequest, protocol.NewNack("CONTEXT-ERROR", "30000", "unreadable request body"))
			return
		}

		env, err := protocol.ParseEnvelope(body)
		if err != nil {
			s.metrics.CallbacksTotal.WithLabelValues(action, "nack").Inc()
			writeJSON(w, http.StatusBadRequest, protocol.NewNack("JSON-SCHEMA-ERROR", "30001", "payload is not valid JSON"))
			return
		}

		caller := env.Context.SellerID
		if !s.opts.Limiter.Allow(caller, time.Now()) {
			s.metrics.CallbacksTotal.WithLabelValues(action, "limited").Inc()
			writeJSON(w, http.StatusTooManyRequests, protocol.NewNack("CORE-ERROR", "30002", "rate limit exceeded"))
			return
		}

		if s.opts.ResolveKey != nil {
			if err := s.verifyInbound(r, body); err != nil {
				s.log.Warn("inbound signature rejected", "action", action, "caller", caller, "err", err)
				s.metrics.CallbacksTotal.WithLabelValues(action, "nack").Inc()
				writeJSON(w, http.StatusUnauthorized, protocol.NewNack("CONTEXT-ERROR", "30010", "signature verification failed"))
				return
			}
		}

		// A reply without its correlation identifier cannot be recorded, but
		// it is still acknowledged: signaling a hard failure would only make
		// the sender retry an unrecordable message forever.
		if err := env.Validate(actionNeedsMessageID(action)); err != nil {
			s.log.Warn("callback dropped", "action", action, "caller", caller, "err", err)
			s.metrics.CallbacksTotal.WithLabelValues(action, "dropped").Inc()
			writeJSON(w, http.StatusOK, protocol.NewAck())
			return
		}

		if err := apply(r, env); err != nil {
			s.log.Error("callback processing failed", "action", action, "transaction_id", env.Context.TransactionID, "err", err)
			s.metrics.CallbacksTotal.WithLabelValues(action, "nack").Inc()
			writeJSON(w, http.StatusInternalServerError, protocol.NewNack("CORE-ERROR", "50001", "correlation store unavailable"))
			return
		}

		s.metrics.CallbacksTotal.WithLabelValues(action, "ack").Inc()
		writeJSON(w, http.StatusOK, protocol.NewAck())
	}
}

func (s *Server) applySearchReply(r *http.Request, env *protocol.Envelope) error {
	return s.multi.AddReply(r.Context(), env.Context.TransactionID, env.Raw)
}

func (s *Server) applyActionReply(action string) applyFunc {
	return func(r *http.Request, env *protocol.Envelope) error {
		return s.single.RecordReply(r.Context(), action, env.Context.TransactionID, env.Context.MessageID, env.Raw)
	}
}

func (s *Server) applyStatusReply(r *http.Request, env *protocol.Envelope) error {
	orderID := env.OrderID()
	if orderID == "" {
		// Recorded nowhere, still acknowledged; see callbackHandler.
		s.log.Warn("status callback without order id", "transaction_id", env.Context.TransactionID)
		return nil
	}
	return s.status.Set(r.Context(), orderID, env.Raw)
}

func actionNeedsMessageID(action string) bool {
	switch action {
	case "select", "init", "confirm":
		return true
	}
	return false
}

func (s *Server) verifyInbound(r *http.Request, body []byte) error {
	header := r.Header.Get("Authorization")
	parsed, err := signing.ParseAuthorizationHeader(header)
	if err != nil {
		return err
	}
	key, ok := s.opts.ResolveKey(parsed.SubscriberID, parsed.UniqueKeyID)
	if !ok {
		return errors.New("unknown signing key")
	}
	_, err = signing.VerifyAuthorizationHeader(header, body, key, time.Now())
	return err
}

// handleOnSubscribe answers the registry's challenge: decrypt with the shared
// secret between our encryption key and the network's published key. Failure
// is a server error; the registry retries the handshake per its protocol.
func (s *Server) handleOnSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriberID string `json:"subscriber_id"`
		Challenge    string `json:"challenge"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCallbackBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid handshake payload"})
		return
	}
	ciphertext, err := base64.StdEncoding.DecodeString(req.Challenge)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "challenge is not base64"})
		return
	}

	answer, err := signing.DecryptChallenge(ciphertext, s.tenant.EncryptionPrivateKey, s.opts.NetworkPublicKey)
	if err != nil {
		s.log.Error("challenge decryption failed", "subscriber_id", req.SubscriberID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "challenge decryption failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": string(answer)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
