// Package outbound issues signed protocol requests and opens the correlation
// entries their asynchronous replies will land in.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"openbap/go-backend/internal/correlation"
	"openbap/go-backend/internal/identity"
	"openbap/go-backend/internal/protocol"
	"openbap/go-backend/internal/signing"
)

// SendResult reports the identifiers a send was correlated under.
type SendResult struct {
	TransactionID string
	MessageID     string
}

type Sender struct {
	tenant      *identity.Tenant
	client      *http.Client
	multi       *correlation.MultiReply
	single      *correlation.SingleReply
	gatewayURL  string
	callbackURL string
	searchTTL   time.Duration
	actionTTL   time.Duration
	now         func() time.Time
	log         *slog.Logger
}

func NewSender(tenant *identity.Tenant, client *http.Client, multi *correlation.MultiReply, single *correlation.SingleReply, gatewayURL, callbackURL string, searchTTL, actionTTL time.Duration, log *slog.Logger) *Sender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		tenant:      tenant,
		client:      client,
		multi:       multi,
		single:      single,
		gatewayURL:  strings.TrimSuffix(gatewayURL, "/"),
		callbackURL: callbackURL,
		searchTTL:   searchTTL,
		actionTTL:   actionTTL,
		now:         time.Now,
		log:         log,
	}
}

// Search broadcasts a discovery intent through the gateway and opens the
// multi-reply entry its unknown set of repliers will aggregate into.
func (s *Sender) Search(ctx context.Context, transactionID string, message json.RawMessage) (SendResult, error) {
	if transactionID == "" {
		transactionID = uuid.NewString()
	}
	messageID := uuid.NewString()

	body, err := s.envelope(protocol.ActionSearch, transactionID, messageID, "", "", s.searchTTL, message)
	if err != nil {
		return SendResult{}, err
	}
	if err := s.multi.CreateEntry(ctx, transactionID, s.searchTTL); err != nil {
		return SendResult{}, err
	}
	if err := s.post(ctx, s.gatewayURL+"/search", body); err != nil {
		return SendResult{}, err
	}
	s.log.Info("search broadcast sent", "transaction_id", transactionID, "message_id", messageID)
	return SendResult{TransactionID: transactionID, MessageID: messageID}, nil
}

// Action sends a point-to-point order action (select/init/confirm) to one
// seller platform and opens the single-reply entry for its one expected
// reply. Each send gets its own message id even within one transaction.
func (s *Sender) Action(ctx context.Context, action protocol.Action, sellerID, sellerURI, transactionID string, message json.RawMessage) (SendResult, error) {
	if transactionID == "" {
		return SendResult{}, fmt.Errorf("%s requires a transaction id", action)
	}
	messageID := uuid.NewString()

	body, err := s.envelope(action, transactionID, messageID, sellerID, sellerURI, s.actionTTL, message)
	if err != nil {
		return SendResult{}, err
	}
	seller := correlation.SellerContext{SellerID: sellerID, SellerURI: sellerURI, SentAt: s.now()}
	if err := s.single.CreateEntry(ctx, string(action), transactionID, messageID, seller, s.actionTTL); err != nil {
		return SendResult{}, err
	}
	if err := s.post(ctx, strings.TrimSuffix(sellerURI, "/")+"/"+string(action), body); err != nil {
		return SendResult{}, err
	}
	s.log.Info("order action sent", "action", action, "transaction_id", transactionID, "message_id", messageID, "seller_id", sellerID)
	return SendResult{TransactionID: transactionID, MessageID: messageID}, nil
}

// Status asks a seller for an order's latest state. Replies land in the
// status snapshot store keyed by order id, so no correlation entry is opened.
func (s *Sender) Status(ctx context.Context, sellerID, sellerURI, transactionID string, message json.RawMessage) (SendResult, error) {
	if transactionID == "" {
		return SendResult{}, fmt.Errorf("status requires a transaction id")
	}
	messageID := uuid.NewString()
	body, err := s.envelope(protocol.ActionStatus, transactionID, messageID, sellerID, sellerURI, s.actionTTL, message)
	if err != nil {
		return SendResult{}, err
	}
	if err := s.post(ctx, strings.TrimSuffix(sellerURI, "/")+"/status", body); err != nil {
		return SendResult{}, err
	}
	return SendResult{TransactionID: transactionID, MessageID: messageID}, nil
}

func (s *Sender) envelope(action protocol.Action, transactionID, messageID, sellerID, sellerURI string, ttl time.Duration, message json.RawMessage) ([]byte, error) {
	if len(message) == 0 {
		message = json.RawMessage(`{}`)
	}
	return json.Marshal(map[string]any{
		"context": protocol.Context{
			Domain:        s.tenant.Domain,
			Action:        string(action),
			TransactionID: transactionID,
			MessageID:     messageID,
			SellerID:      sellerID,
			SellerURI:     sellerURI,
			BuyerID:       s.tenant.SubscriberID,
			BuyerURI:      s.callbackURL,
			TTL:           fmt.Sprintf("PT%dS", int(ttl/time.Second)),
			Timestamp:     s.now().UTC().Format(time.RFC3339),
		},
		"message": message,
	})
}

// post signs and sends; a signing failure aborts the send entirely, so an
// unsigned request can never leave the process.
func (s *Sender) post(ctx context.Context, url string, body []byte) error {
	header, err := signing.BuildAuthorizationHeader(s.tenant, body)
	if err != nil {
		return fmt.Errorf("sign %s: %w", url, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", header)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, payload)
	}
	return nil
}
