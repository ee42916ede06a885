package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// HTTPStore talks JSON over HTTP to the Conversation Store service.
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPStore creates a store client. token may be empty when the deployment
// does not require auth. timeout bounds each individual request.
func NewHTTPStore(baseURL, token string, timeout time.Duration, logger *zap.Logger) *HTTPStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStore{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (s *HTTPStore) ListPeers(ctx context.Context, selfID string) ([]Peer, error) {
	if err := requireIdentity(selfID); err != nil {
		return nil, err
	}
	var peers []Peer
	q := url.Values{"self": {selfID}}
	if err := s.get(ctx, "list peers", "/v1/peers", q, &peers); err != nil {
		return nil, err
	}
	for _, p := range peers {
		if p.ID == "" {
			return nil, &DataShapeError{Op: "list peers", Detail: "peer with empty id"}
		}
	}
	return peers, nil
}

func (s *HTTPStore) ListSummaries(ctx context.Context, selfID string) ([]Summary, error) {
	if err := requireIdentity(selfID); err != nil {
		return nil, err
	}
	var sums []Summary
	q := url.Values{"self": {selfID}}
	if err := s.get(ctx, "list summaries", "/v1/conversations", q, &sums); err != nil {
		return nil, err
	}
	for _, sum := range sums {
		if sum.PeerID == "" {
			return nil, &DataShapeError{Op: "list summaries", Detail: "summary with empty peer id"}
		}
	}
	return sums, nil
}

func (s *HTTPStore) FetchConversation(ctx context.Context, selfID, peerID string) ([]RawMessage, error) {
	if err := requireIdentity(selfID, peerID); err != nil {
		return nil, err
	}
	var msgs []RawMessage
	q := url.Values{"self": {selfID}}
	path := "/v1/conversations/" + url.PathEscape(peerID) + "/messages"
	if err := s.get(ctx, "fetch conversation", path, q, &msgs); err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.ID <= 0 {
			return nil, &DataShapeError{Op: "fetch conversation", Detail: "message without server id"}
		}
	}
	return msgs, nil
}

func (s *HTTPStore) SendMessage(ctx context.Context, selfID, peerID, body string, file bool) (SendReceipt, error) {
	if err := requireIdentity(selfID, peerID); err != nil {
		return SendReceipt{}, err
	}
	if body == "" {
		return SendReceipt{}, ErrEmptyMessage
	}
	payload := map[string]any{
		"self": selfID,
		"peer": peerID,
		"body": body,
		"file": file,
	}
	var receipt SendReceipt
	if err := s.post(ctx, "send message", "/v1/messages", payload, &receipt); err != nil {
		return SendReceipt{}, err
	}
	if receipt.ID <= 0 {
		return SendReceipt{}, &DataShapeError{Op: "send message", Detail: "receipt without server id"}
	}
	return receipt, nil
}

func (s *HTTPStore) AcknowledgeRead(ctx context.Context, messageID int64) error {
	if messageID <= 0 {
		return PreconditionError(fmt.Sprintf("invalid message id %d", messageID))
	}
	path := fmt.Sprintf("/v1/messages/%d/read", messageID)
	return s.post(ctx, "acknowledge read", path, nil, nil)
}

func requireIdentity(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return ErrMissingIdentity
		}
	}
	return nil
}

func (s *HTTPStore) get(ctx context.Context, op, path string, query url.Values, out any) error {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return s.do(op, req, out)
}

func (s *HTTPStore) post(ctx context.Context, op, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &TransportError{Op: op, Err: err}
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.do(op, req, out)
}

func (s *HTTPStore) do(op string, req *http.Request, out any) error {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		if s.logger != nil {
			s.logger.Warn("store call failed",
				zap.String("op", op),
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", snippet))
		}
		return &TransportError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DataShapeError{Op: op, Detail: err.Error()}
	}
	return nil
}
