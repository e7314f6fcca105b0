package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"shiftline/internal/domain"
)

// Mirror receives a copy of each ledger row. Implementations get exactly one
// attempt per row; they must not retry internally.
type Mirror interface {
	Append(ctx context.Context, entry domain.ReportEntry) error
}

// NoopMirror discards rows. Used when no mirror URL is configured.
type NoopMirror struct{}

func (NoopMirror) Append(context.Context, domain.ReportEntry) error { return nil }

// HTTPMirror posts rows as JSON to a remote collector.
type HTTPMirror struct {
	URL    string
	Client *http.Client
}

func NewHTTPMirror(url string) *HTTPMirror {
	return &HTTPMirror{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *HTTPMirror) Append(ctx context.Context, entry domain.ReportEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mirror returned status %d", resp.StatusCode)
	}
	return nil
}
