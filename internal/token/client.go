package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DoyleJ11/duel-escrow-backend/internal/engine"
	"github.com/DoyleJ11/duel-escrow-backend/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Request is one token instruction. Key is stable across retries of the same instruction.
type Request struct {
	Key        uuid.UUID
	InstanceID uuid.UUID
	Transfer   engine.Transfer
}

// Client hands instructions to the external token collaborator. Send must be safe to repeat
// with the same Key.
type Client interface {
	Send(ctx context.Context, req Request) error
}

// HTTPClient posts instructions to a token service.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Send(ctx context.Context, req Request) error {
	body, err := json.Marshal(types.ToTransferInstruction(req.InstanceID, req.Transfer))
	if err != nil {
		return fmt.Errorf("encode transfer: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Key.String())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post transfer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("token service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// LogClient only logs instructions. It stands in when no token service is configured.
type LogClient struct {
	Log *zap.Logger
}

func (c LogClient) Send(ctx context.Context, req Request) error {
	fields := []zap.Field{
		zap.String("key", req.Key.String()),
		zap.String("instance", req.InstanceID.String()),
		zap.String("kind", string(req.Transfer.Kind)),
		zap.String("amount", req.Transfer.Amount.Dec()),
	}
	if req.Transfer.Owner != "" {
		fields = append(fields, zap.String("owner", req.Transfer.Owner))
	}
	if req.Transfer.Recipient != "" {
		fields = append(fields, zap.String("recipient", req.Transfer.Recipient))
	}
	c.Log.Info("token transfer", fields...)
	return nil
}
