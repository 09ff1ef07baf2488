// Package client is the HTTP client for the design module API. loomctl and
// the seeder are built on it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/models"
)

// Client talks to one loomlined instance.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for the given base URL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path, token string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.client.Do(req)
}

// do runs a request and decodes the response into out when the status
// matches want. Other statuses surface the server's error message.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, want int) error {
	resp, err := c.doRequest(ctx, method, path, "", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s (status %d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

// =============================================================================
// Pipeline Items
// =============================================================================

type itemListResponse struct {
	Items []*models.PipelineItem `json:"items"`
	Count int                    `json:"count"`
}

func (c *Client) CreateItem(ctx context.Context, req *models.CreateItemRequest) (*models.PipelineItem, error) {
	var item models.PipelineItem
	if err := c.do(ctx, http.MethodPost, "/api/v1/pipeline/items", req, &item, http.StatusCreated); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) ListItems(ctx context.Context, stage string, blocked *bool, limit int) ([]*models.PipelineItem, error) {
	q := url.Values{}
	if stage != "" {
		q.Set("stage", stage)
	}
	if blocked != nil {
		q.Set("blocked", strconv.FormatBool(*blocked))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/v1/pipeline/items"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp itemListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) GetItem(ctx context.Context, id string) (*models.PipelineItem, error) {
	var item models.PipelineItem
	if err := c.do(ctx, http.MethodGet, "/api/v1/pipeline/items/"+id, nil, &item, http.StatusOK); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) AdvanceItem(ctx context.Context, id, actor string) (*models.PipelineItem, error) {
	var item models.PipelineItem
	err := c.do(ctx, http.MethodPost, "/api/v1/pipeline/items/"+id+"/advance",
		&models.AdvanceRequest{Actor: actor}, &item, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) ValidateItem(ctx context.Context, id string) (*models.PipelineItem, error) {
	var item models.PipelineItem
	err := c.do(ctx, http.MethodPost, "/api/v1/pipeline/items/"+id+"/validate", nil, &item, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) CancelItem(ctx context.Context, id, actor, reason string) (*models.PipelineItem, error) {
	var item models.PipelineItem
	err := c.do(ctx, http.MethodPost, "/api/v1/pipeline/items/"+id+"/cancel",
		&models.CancelRequest{Actor: actor, Reason: reason}, &item, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) SetItemStage(ctx context.Context, id, stage, actor, note string) (*models.PipelineItem, error) {
	var item models.PipelineItem
	err := c.do(ctx, http.MethodPost, "/api/v1/pipeline/items/"+id+"/stage",
		&models.SetStageRequest{Stage: stage, Actor: actor, Note: note}, &item, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) ClearItem(ctx context.Context, id, actor string) (*models.PipelineItem, error) {
	var item models.PipelineItem
	err := c.do(ctx, http.MethodPost, "/api/v1/pipeline/items/"+id+"/clear",
		&models.ClearRequest{Actor: actor}, &item, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// =============================================================================
// Validations
// =============================================================================

type validationListResponse struct {
	Validations []models.PendingValidation `json:"validations"`
	Count       int                        `json:"count"`
}

func (c *Client) ListValidations(ctx context.Context) ([]models.PendingValidation, error) {
	var resp validationListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/validations", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Validations, nil
}

func (c *Client) RespondValidation(ctx context.Context, correlationID string, req *models.ValidationResponseRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/validations/"+correlationID+"/response", req, nil, http.StatusOK)
}

// =============================================================================
// Alerts
// =============================================================================

type alertListResponse struct {
	Alerts []*models.Alert `json:"alerts"`
	Count  int             `json:"count"`
}

func (c *Client) ListAlerts(ctx context.Context, req *models.ListAlertsRequest) ([]*models.Alert, error) {
	q := url.Values{}
	if req.Status != "" {
		q.Set("status", req.Status)
	}
	if req.Severity != "" {
		q.Set("severity", req.Severity)
	}
	if req.Category != "" {
		q.Set("category", req.Category)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	path := "/api/v1/alerts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp alertListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

func (c *Client) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	var alert models.Alert
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts/"+id, nil, &alert, http.StatusOK); err != nil {
		return nil, err
	}
	return &alert, nil
}

func (c *Client) CreateAlert(ctx context.Context, req *models.CreateAlertRequest) (*models.Alert, error) {
	var alert models.Alert
	if err := c.do(ctx, http.MethodPost, "/api/v1/alerts", req, &alert, http.StatusCreated); err != nil {
		return nil, err
	}
	return &alert, nil
}

func (c *Client) ResolveAlert(ctx context.Context, id, resolvedBy string) (*models.Alert, error) {
	var alert models.Alert
	err := c.do(ctx, http.MethodPost, "/api/v1/alerts/"+id+"/resolve",
		&models.ResolveAlertRequest{ResolvedBy: resolvedBy}, &alert, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// =============================================================================
// Events
// =============================================================================

type journalListResponse struct {
	Events []*models.JournalEntry `json:"events"`
	Count  int                    `json:"count"`
}

func (c *Client) ListEvents(ctx context.Context, req *models.ListJournalRequest) ([]*models.JournalEntry, error) {
	q := url.Values{}
	if req.Direction != "" {
		q.Set("direction", req.Direction)
	}
	if req.Module != "" {
		q.Set("module", req.Module)
	}
	if req.EventType != "" {
		q.Set("type", req.EventType)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	path := "/api/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp journalListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// PublishEvent publishes an envelope as the server's module and returns the
// envelope id.
func (c *Client) PublishEvent(ctx context.Context, req *models.PublishEventRequest) (string, error) {
	var resp struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/events", req, &resp, http.StatusAccepted); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ReceiveEvent posts an envelope to the fallback intake, authenticated with
// the given delivery token. Returns the intake status, "accepted" or
// "duplicate".
func (c *Client) ReceiveEvent(ctx context.Context, env *events.Envelope, token string) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/events/receive", token, env)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var body struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Status, nil
}

// Health fetches the server health summary.
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var health models.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &health, http.StatusOK); err != nil {
		return nil, err
	}
	return &health, nil
}
