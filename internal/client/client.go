// Package client fetches the item batch from a running site.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "khojum/internal/log"
	"khojum/internal/model"
)

const maxBody = 16 << 20

// FetchError is any failure to obtain a usable item list: transport
// errors, non-2xx statuses, a non-JSON content type or an undecodable body.
type FetchError struct {
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("fetch items: HTTP %d: %s", e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("fetch items: HTTP %d", e.Status)
	case e.Err != nil:
		return "fetch items: " + e.Err.Error()
	default:
		return "fetch items: " + e.Message
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client reads /api/events from BaseURL.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// FetchItems loads the whole batch. Every failure is a *FetchError.
func (c *Client) FetchItems(ctx context.Context) ([]model.Item, error) {
	u, err := url.JoinPath(c.BaseURL, "/api/events")
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return nil, &FetchError{Status: resp.StatusCode, Message: e.Error}
	}

	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return nil, &FetchError{Message: "unexpected content type " + resp.Header.Get("Content-Type")}
	}

	var items []model.Item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &FetchError{Message: "response is not an item array", Err: err}
	}
	if items == nil {
		return nil, &FetchError{Message: "response is not an item array", Err: errors.New("null body")}
	}
	appLog.Debug("items fetched", "count", len(items))
	return items, nil
}
