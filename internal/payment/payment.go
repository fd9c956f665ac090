// Package payment talks to the checkout backend that creates payment
// sessions. The service treats it as a black box returning success or failure.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/IotchulindraRai/photofilter/internal/config"
)

type Session struct {
	ID  string
	URL string
}

type Request struct {
	RecordID string `json:"record_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Gateway interface {
	CreateSession(ctx context.Context, req Request) (Session, error)
}

type httpGateway struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

func NewHTTPGateway(cfg *config.PaymentConfig, log *zap.Logger) Gateway {
	return &httpGateway{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log,
	}
}

func (g *httpGateway) CreateSession(ctx context.Context, req Request) (Session, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Session{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("call payment backend: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, fmt.Errorf("read payment response: %w", err)
	}

	if resp.StatusCode >= 300 {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = gjson.GetBytes(raw, "error").String()
		}
		return Session{}, fmt.Errorf("payment backend returned %d: %s", resp.StatusCode, msg)
	}

	id := gjson.GetBytes(raw, "id")
	if !id.Exists() || id.String() == "" {
		return Session{}, fmt.Errorf("payment backend response has no session id")
	}

	session := Session{ID: id.String(), URL: gjson.GetBytes(raw, "url").String()}

	g.log.Info("Payment session created",
		zap.String("record_id", req.RecordID),
		zap.String("session_id", session.ID))

	return session, nil
}
