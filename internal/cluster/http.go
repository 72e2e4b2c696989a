package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpClient is shared by the JSON helpers. The timeout bounds every
// request in addition to the caller's context.
var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON sends body as JSON with POST and decodes the reply into out.
//
// Parameters:
//   - ctx: Context for cancellation and deadline
//   - url: Full URL of the gateway route
//   - body: Value to encode; nil sends no body
//   - out: Pointer to decode into; nil discards the reply
//
// Returns an error for transport failures, undecodable replies, and any
// HTTP status of 300 or above.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	return DoJSON(ctx, http.MethodPost, url, body, out)
}

// GetJSON performs a GET and decodes the JSON reply into out.
func GetJSON(ctx context.Context, url string, out any) error {
	return DoJSON(ctx, http.MethodGet, url, nil, out)
}

// DoJSON is the general form behind PostJSON and GetJSON, used directly for
// PUT and DELETE routes that carry a body.
func DoJSON(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s %s: %d", method, url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
