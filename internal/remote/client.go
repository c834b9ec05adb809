// Package remote talks to the opaque HTTP collaborator holding the server
// copy of field notes. The server's business logic is out of scope here: the
// client exchanges a last-known sync token for a new one and fetches full
// note state per parcel.
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

	"fieldsync/internal/config"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Client struct {
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewClient(cfg config.RemoteConfig, logger *zerolog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpc:   &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

type syncRequest struct {
	LastUpdate string `json:"lastUpdate"`
}

type syncResponse struct {
	Update string `json:"update"`
}

// SyncParcel posts the last-known sync token for a parcel and returns the
// new token issued by the server.
func (c *Client) SyncParcel(ctx context.Context, parcelKey, lastUpdate string) (string, error) {
	var resp syncResponse
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/fieldnotes/%s/sync", url.PathEscape(parcelKey)),
		syncRequest{LastUpdate: lastUpdate}, &resp)
	if err != nil {
		return "", fmt.Errorf("sync parcel %q: %w", parcelKey, err)
	}
	return resp.Update, nil
}

type notesResponse struct {
	Notes []models.FieldNote `json:"notes"`
}

// FetchNotes retrieves the full server-side note set for a parcel. The
// server returns complete state rather than a delta.
func (c *Client) FetchNotes(ctx context.Context, parcelKey string) ([]models.FieldNote, error) {
	var resp notesResponse
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/fieldnotes/%s/notes", url.PathEscape(parcelKey)), nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetch notes for parcel %q: %w", parcelKey, err)
	}
	return resp.Notes, nil
}

// PushNote submits a created or updated note and returns the server's copy,
// which may carry a server-assigned id for notes created offline.
func (c *Client) PushNote(ctx context.Context, note models.FieldNote) (models.FieldNote, error) {
	var saved models.FieldNote
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/fieldnotes/%s/notes", url.PathEscape(note.ParcelKey)), note, &saved)
	if err != nil {
		return models.FieldNote{}, fmt.Errorf("push note %q: %w", note.ID, err)
	}
	return saved, nil
}

// DeleteNote removes a note on the server.
func (c *Client) DeleteNote(ctx context.Context, parcelKey, noteID string) error {
	err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/fieldnotes/%s/notes/%s", url.PathEscape(parcelKey), url.PathEscape(noteID)), nil, nil)
	if err != nil {
		return fmt.Errorf("delete note %q: %w", noteID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
