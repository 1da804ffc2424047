package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultConvertTimeout = 60 * time.Second

// HTTPConverter calls an external document conversion service. The protocol
// is one POST to /convert with {"documents":[{"name","data"}]} where data is
// base64, answered by {"results":[{"name","data"}|{"name","error"}]} in the
// same order.
type HTTPConverter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPConverter points the converter at baseURL. timeout bounds each
// batch call; zero keeps the default.
func NewHTTPConverter(baseURL string, timeout time.Duration) *HTTPConverter {
	if timeout <= 0 {
		timeout = defaultConvertTimeout
	}
	return &HTTPConverter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type wireDocument struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type wireResult struct {
	Name  string `json:"name"`
	Data  string `json:"data"`
	Error string `json:"error"`
}

func (c *HTTPConverter) Convert(ctx context.Context, items []Item) ([]Result, error) {
	if len(items) == 0 {
		return nil, nil
	}
	reqBody := struct {
		Documents []wireDocument `json:"documents"`
	}{Documents: make([]wireDocument, len(items))}
	for i, item := range items {
		reqBody.Documents[i] = wireDocument{Name: item.Name, Data: item.Data}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode conversion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build conversion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conversion request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("conversion service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var decoded struct {
		Results []wireResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode conversion response: %w", err)
	}
	if len(decoded.Results) != len(items) {
		return nil, fmt.Errorf("conversion service returned %d results for %d documents", len(decoded.Results), len(items))
	}
	out := make([]Result, len(items))
	for i, r := range decoded.Results {
		if r.Error != "" {
			out[i] = Result{Err: errors.New(r.Error)}
			continue
		}
		out[i] = Result{Text: r.Data}
	}
	return out, nil
}
