package saveclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPSaver talks to the draft save endpoint. Credentials ride on the
// http.Client's cookie jar (session cookie or anonymous owner cookie).
type HTTPSaver struct {
	client  *http.Client
	baseURL string
	pageID  string

	localRevision int64
}

// NewHTTPSaver creates a saver for one page. baseURL is the server root,
// e.g. "https://pagedeck.example".
func NewHTTPSaver(client *http.Client, baseURL, pageID string) *HTTPSaver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSaver{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		pageID:  pageID,
	}
}

type saveRequest struct {
	DraftContent       string `json:"draftContent"`
	LocalRevision      int64  `json:"localRevision"`
	BaseServerRevision int64  `json:"baseServerRevision"`
}

type saveResponse struct {
	Success               bool   `json:"success"`
	Conflict              bool   `json:"conflict"`
	ServerRevision        int64  `json:"serverRevision"`
	CurrentServerRevision int64  `json:"currentServerRevision"`
	Error                 string `json:"error"`
}

// Save implements Saver with one PUT round trip.
func (s *HTTPSaver) Save(ctx context.Context, content string, baseRevision int64) (Outcome, error) {
	s.localRevision++

	payload, err := json.Marshal(saveRequest{
		DraftContent:       content,
		LocalRevision:      s.localRevision,
		BaseServerRevision: baseRevision,
	})
	if err != nil {
		return Outcome{}, Permanent(err)
	}

	url := fmt.Sprintf("%s/api/pages/%s/draft", s.baseURL, s.pageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return Outcome{}, Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{}, err
	}

	var parsed saveResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			return Outcome{}, fmt.Errorf("malformed save response: %w", err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusOK && parsed.Success:
		return Outcome{Accepted: true, ServerRevision: parsed.ServerRevision}, nil
	case resp.StatusCode == http.StatusConflict || parsed.Conflict:
		return Outcome{Conflict: true, ServerRevision: parsed.CurrentServerRevision}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Outcome{}, Permanent(errors.New("not authorized to save this page"))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusRequestEntityTooLarge:
		message := parsed.Error
		if message == "" {
			message = "draft rejected by server"
		}
		return Outcome{}, Permanent(errors.New(message))
	default:
		return Outcome{}, fmt.Errorf("save failed with status %d", resp.StatusCode)
	}
}
