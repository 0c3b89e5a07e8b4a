// Package client talks to the three server interfaces the offline
// subsystem consumes: the tenant reference-data read endpoint, the
// secondary-identifier write endpoint and the inventory session
// endpoints used for draft promotion.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fabricedemange/coopaz-offline/model"
)

const defaultTimeout = 15 * time.Second

// ErrUnavailable wraps transport-level failures: the server could not be
// reached at all. A drain stops at the first entry failing with it.
var ErrUnavailable = errors.New("server unreachable")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("coopaz api error: %s", e.Status)
	}
	return fmt.Sprintf("coopaz api error: %s: %s", e.Status, e.Body)
}

// Options configures New.
type Options struct {
	// BaseURL is the server origin, e.g. "https://coop.example.org".
	BaseURL string
	// Timeout bounds each request. Defaults to 15s; cancellation beyond
	// that is the caller's context.
	Timeout time.Duration
	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client
}

// Client is the API client. Safe for concurrent use.
type Client struct {
	http *resty.Client
}

// New returns a Client for the given server.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var httpClient *resty.Client
	if opts.HTTPClient != nil {
		httpClient = resty.NewWithClient(opts.HTTPClient)
	} else {
		httpClient = resty.New()
	}
	httpClient.
		SetBaseURL(opts.BaseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// Retry once on transport errors only; the write endpoint is
			// idempotent so a duplicate apply is safe.
			return err != nil
		})

	return &Client{http: httpClient}
}

type referenceResponse struct {
	Success    bool             `json:"success"`
	Products   []model.Product  `json:"produits"`
	Categories []model.Category `json:"categories"`
}

// FetchReference returns the current product and category reference data
// for the tenant.
func (c *Client) FetchReference(ctx context.Context) (*model.ReferenceData, error) {
	var out referenceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/caisse/produits")
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("fetch reference data: %w", err)
	}
	return &model.ReferenceData{Products: out.Products, Categories: out.Categories}, nil
}

// UpdateEAN assigns a new secondary identifier to a product. The
// endpoint is idempotent: re-applying the same value is safe, which is
// what makes at-least-once queue replay sound.
func (c *Client) UpdateEAN(ctx context.Context, productID int64, value *string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"code_ean": value}).
		Patch(fmt.Sprintf("/api/caisse/products/%d/code-ean", productID))
	if err := checkResponse(resp, err); err != nil {
		return fmt.Errorf("update ean for product %d: %w", productID, err)
	}
	return nil
}

type createSessionResponse struct {
	Success bool `json:"success"`
	Session struct {
		ID int64 `json:"id"`
	} `json:"inventaire"`
}

// CreateSession creates a server-side inventory counting session and
// returns its identifier. Used to promote a locally created draft.
func (c *Client) CreateSession(ctx context.Context, comment string) (int64, error) {
	body := map[string]any{}
	if comment != "" {
		body["comment"] = comment
	}
	var out createSessionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/api/caisse/inventaires")
	if err := checkResponse(resp, err); err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	return out.Session.ID, nil
}

// SaveLine upserts one counted line of a server-side session.
func (c *Client) SaveLine(ctx context.Context, sessionID int64, line model.DraftLine) error {
	body := map[string]any{
		"product_id":       line.ProductID,
		"quantite_comptee": line.Quantity,
	}
	if line.Note != "" {
		body["comment"] = line.Note
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(fmt.Sprintf("/api/caisse/inventaires/%d/lignes", sessionID))
	if err := checkResponse(resp, err); err != nil {
		return fmt.Errorf("save line for session %d: %w", sessionID, err)
	}
	return nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.IsError() {
		return &APIError{
			StatusCode: resp.StatusCode(),
			Status:     resp.Status(),
			Body:       string(resp.Body()),
		}
	}
	return nil
}
