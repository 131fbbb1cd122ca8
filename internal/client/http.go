package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/studiocast/studio/internal/apperr"
)

// StatusError is a non-2xx answer from a collaborator
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Service, e.StatusCode, e.Body)
}

// classify marks errors worth retrying. 5xx, 429 and transport failures are
// transient; other 4xx answers will not change on retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests {
			return apperr.Transient(err)
		}
		return apperr.Fatal(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Transient(err)
}

// doJSON sends body as JSON (when non-nil) and decodes a JSON answer into result (when non-nil)
func doJSON(ctx context.Context, hc *http.Client, service, method, url string, header http.Header, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return do(hc, service, req, result)
}

func do(hc *http.Client, service string, req *http.Request, result interface{}) error {
	resp, err := hc.Do(req)
	if err != nil {
		return classify(fmt.Errorf("failed to send request to %s: %w", service, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classify(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(&StatusError{Service: service, StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return apperr.Fatal(fmt.Errorf("failed to unmarshal %s response: %w", service, err))
	}
	return nil
}
