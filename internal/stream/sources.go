package stream

import (
	"context"
	"encoding/json"
	"time"

	"openbap/go-backend/internal/correlation"
)

type multiReplySource struct {
	engine        *correlation.MultiReply
	transactionID string
}

// NewMultiReplySource follows a discovery broadcast's aggregate.
func NewMultiReplySource(engine *correlation.MultiReply, transactionID string) Source {
	return &multiReplySource{engine: engine, transactionID: transactionID}
}

func (s *multiReplySource) Channel() string {
	return s.engine.Channel(s.transactionID)
}

func (s *multiReplySource) Snapshot(ctx context.Context) ([]byte, bool, bool, time.Time, error) {
	snap, err := s.engine.Snapshot(ctx, s.transactionID)
	if err != nil || !snap.Found {
		return nil, false, false, time.Time{}, err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, false, false, time.Time{}, err
	}
	return payload, true, snap.Complete, snap.Deadline, nil
}

type singleReplySource struct {
	engine        *correlation.SingleReply
	action        string
	transactionID string
	messageID     string
}

// NewSingleReplySource follows one tracked order action.
func NewSingleReplySource(engine *correlation.SingleReply, action, transactionID, messageID string) Source {
	return &singleReplySource{engine: engine, action: action, transactionID: transactionID, messageID: messageID}
}

func (s *singleReplySource) Channel() string {
	return s.engine.Channel(s.action, s.transactionID, s.messageID)
}

func (s *singleReplySource) Snapshot(ctx context.Context) ([]byte, bool, bool, time.Time, error) {
	entry, err := s.engine.GetEntry(ctx, s.action, s.transactionID, s.messageID)
	if err != nil || !entry.Found {
		return nil, false, false, time.Time{}, err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, false, false, time.Time{}, err
	}
	return payload, true, entry.Complete, entry.Deadline, nil
}
