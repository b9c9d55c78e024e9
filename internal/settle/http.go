package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSubmitter posts results to the external settlement endpoint.
type HTTPSubmitter struct {
	url    string
	client *http.Client
}

func NewHTTPSubmitter(url string) *HTTPSubmitter {
	return &HTTPSubmitter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPSubmitter) Submit(ctx context.Context, res Result) (Reward, error) {
	body, err := json.Marshal(res)
	if err != nil {
		return Reward{}, fmt.Errorf("marshal result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Reward{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Reward{}, fmt.Errorf("submit result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Reward{}, fmt.Errorf("settlement endpoint returned %s", resp.Status)
	}

	var rw Reward
	if err := json.NewDecoder(resp.Body).Decode(&rw); err != nil {
		return Reward{}, fmt.Errorf("decode reward: %w", err)
	}
	return rw, nil
}
