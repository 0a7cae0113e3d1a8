package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Absorber is the external merge API: the remote CRM folds the secondary
// record into the primary. The call is assumed to fail closed (no partial
// remote merge on error) and must tolerate being retried.
type Absorber interface {
	Absorb(ctx context.Context, primaryRemoteID, secondaryRemoteID string) error
}

// Client calls the CRM's merge endpoint over HTTP.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type absorbRequest struct {
	PrimaryRemoteID   string `json:"primary_remote_id"`
	SecondaryRemoteID string `json:"secondary_remote_id"`
}

func (c *Client) Absorb(ctx context.Context, primaryRemoteID, secondaryRemoteID string) error {
	body, err := json.Marshal(absorbRequest{
		PrimaryRemoteID:   primaryRemoteID,
		SecondaryRemoteID: secondaryRemoteID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/merge", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("merge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("merge of %s into %s rejected: status %d: %s",
			secondaryRemoteID, primaryRemoteID, resp.StatusCode, msg)
	}
	return nil
}
