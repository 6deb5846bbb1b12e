// Package protocol models the slice of the network's wire format this core
// needs: the context block carrying correlation identifiers, and the ACK/NACK
// acknowledgment envelope every callback returns. Payload bodies are kept as
// raw bytes and never re-serialized, so unknown fields survive round trips.
package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrMissingTransactionID = errors.New("missing transaction id")
	ErrMissingMessageID     = errors.New("missing message id")
)

// Action names the protocol operations the buyer side issues.
type Action string

const (
	ActionSearch  Action = "search"
	ActionSelect  Action = "select"
	ActionInit    Action = "init"
	ActionConfirm Action = "confirm"
	ActionStatus  Action = "status"
)

// Context is the correlation header every message carries. Only the fields
// the correlation engine needs are modeled; everything else stays in the raw
// envelope bytes.
type Context struct {
	Domain        string `json:"domain,omitempty"`
	Action        string `json:"action,omitempty"`
	TransactionID string `json:"transaction_id"`
	MessageID     string `json:"message_id,omitempty"`
	SellerID      string `json:"bpp_id,omitempty"`
	SellerURI     string `json:"bpp_uri,omitempty"`
	BuyerID       string `json:"bap_id,omitempty"`
	BuyerURI      string `json:"bap_uri,omitempty"`
	TTL           string `json:"ttl,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// Envelope pairs the extracted context with the exact received bytes.
type Envelope struct {
	Context Context
	Raw     json.RawMessage
}

// ParseEnvelope extracts the context block and retains the remainder as an
// opaque blob. Extra fields are accepted; the raw bytes are authoritative.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var probe struct {
		Context Context `json:"context"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, ErrMalformedPayload
	}
	return &Envelope{
		Context: probe.Context,
		Raw:     append(json.RawMessage(nil), raw...),
	}, nil
}

// Validate checks the identifiers a correlation write needs.
func (e *Envelope) Validate(requireMessageID bool) error {
	if strings.TrimSpace(e.Context.TransactionID) == "" {
		return ErrMissingTransactionID
	}
	if requireMessageID && strings.TrimSpace(e.Context.MessageID) == "" {
		return ErrMissingMessageID
	}
	return nil
}

// OrderID digs the order identifier out of a status callback body without
// disturbing the rest of the payload.
func (e *Envelope) OrderID() string {
	var probe struct {
		Message struct {
			Order struct {
				ID string `json:"id"`
			} `json:"order"`
		} `json:"message"`
	}
	if err := json.Unmarshal(e.Raw, &probe); err != nil {
		return ""
	}
	return probe.Message.Order.ID
}
