package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"openbap/go-backend/internal/protocol"
)

// actionRequest is the thin client-facing trigger for outbound sends; the
// message block passes through to the wire untouched.
type actionRequest struct {
	TransactionID string          `json:"transaction_id"`
	SellerID      string          `json:"seller_id"`
	SellerURI     string          `json:"seller_uri"`
	Message       json.RawMessage `json:"message"`
}

func (s *Server) handleAPISearch(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCallbackBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	result, err := s.sender.Search(r.Context(), req.TransactionID, req.Message)
	if err != nil {
		s.metrics.OutboundTotal.WithLabelValues("search", "error").Inc()
		s.log.Error("search send failed", "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "search send failed"})
		return
	}
	s.metrics.OutboundTotal.WithLabelValues("search", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"transaction_id": result.TransactionID,
		"message_id":     result.MessageID,
	})
}

func (s *Server) handleAPIAction(w http.ResponseWriter, r *http.Request) {
	action := protocol.Action(chi.URLParam(r, "action"))
	switch action {
	case protocol.ActionSelect, protocol.ActionInit, protocol.ActionConfirm, protocol.ActionStatus:
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	var req actionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCallbackBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	var result any
	var err error
	if action == protocol.ActionStatus {
		result, err = s.sender.Status(r.Context(), req.SellerID, req.SellerURI, req.TransactionID, req.Message)
	} else {
		result, err = s.sender.Action(r.Context(), action, req.SellerID, req.SellerURI, req.TransactionID, req.Message)
	}
	if err != nil {
		s.metrics.OutboundTotal.WithLabelValues(string(action), "error").Inc()
		s.log.Error("action send failed", "action", action, "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "send failed"})
		return
	}
	s.metrics.OutboundTotal.WithLabelValues(string(action), "ok").Inc()
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAPIOrders(w http.ResponseWriter, r *http.Request) {
	ids, err := s.status.OrderIDs(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "order listing failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_ids": ids})
}

func (s *Server) handleAPIOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	payload, found, err := s.status.Get(r.Context(), orderID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "status read failed"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no status for order"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
