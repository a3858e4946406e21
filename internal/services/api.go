// API service for talking to a running bridge's control plane
package services

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

	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
)

// DefaultBridgeURL is where a bridge listens with the default configuration.
const DefaultBridgeURL = "http://127.0.0.1:5330"

// APIService makes requests against a running bridge. The CLI and the monitor use it.
type APIService struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIService creates a new API service instance for the bridge at baseURL.
func NewAPIService(baseURL string, client *http.Client) *APIService {
	if baseURL == "" {
		baseURL = DefaultBridgeURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &APIService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// BaseURL returns the bridge address requests are sent to.
func (a *APIService) BaseURL() string {
	return a.baseURL
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Running   bool             `json:"running"`
	Status    string           `json:"status"`
	Service   string           `json:"service"`
	Version   string           `json:"version"`
	Connected bool             `json:"connected"`
	UserInfo  *models.UserInfo `json:"user_info"`
}

// ConnectResponse is the body of POST /connect.
type ConnectResponse struct {
	AuthURL string `json:"auth_url"`
	Opened  bool   `json:"opened"`
}

// ImportAccepted is the body of a successful POST /import.
type ImportAccepted struct {
	OperationID string        `json:"operation_id"`
	Status      models.Status `json:"status"`
}

// ErrorResponse is the body of every non-2xx control plane response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Get performs a GET request to the specified path and returns the raw response.
func (a *APIService) Get(ctx context.Context, path string) (*APIResponse, error) {
	return a.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with the given JSON data and returns the raw response.
func (a *APIService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	return a.do(ctx, http.MethodPost, path, data)
}

func (a *APIService) do(ctx context.Context, method, path string, data []byte) (*APIResponse, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	apiResp := &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       raw,
	}

	var jsonData any
	if err := json.Unmarshal(raw, &jsonData); err == nil {
		apiResp.IsJSON = true
		apiResp.JSONData = jsonData
	}

	return apiResp, nil
}

// decode checks resp for one of the expected codes and unmarshals its body into result.
func decode(resp *APIResponse, result any, expected ...int) error {
	for _, code := range expected {
		if resp.StatusCode == code {
			if result == nil {
				return nil
			}
			if err := json.Unmarshal(resp.Body, result); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}
	}

	var e ErrorResponse
	if err := json.Unmarshal(resp.Body, &e); err == nil && e.Error != "" {
		msg := e.Error
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
		return fmt.Errorf("%w: status %d: %s", shared.ErrAPIRequest, resp.StatusCode, msg)
	}
	return fmt.Errorf("%w: status %d", shared.ErrAPIRequest, resp.StatusCode)
}

// Status reports whether the bridge is up and connected.
func (a *APIService) Status(ctx context.Context) (*StatusResponse, error) {
	resp, err := a.Get(ctx, "/status")
	if err != nil {
		return nil, err
	}

	var status StatusResponse
	if err := decode(resp, &status, http.StatusOK); err != nil {
		return nil, err
	}
	return &status, nil
}

// Connect asks the bridge to begin authorization and returns the URL to visit.
func (a *APIService) Connect(ctx context.Context) (*ConnectResponse, error) {
	resp, err := a.Post(ctx, "/connect", []byte("{}"))
	if err != nil {
		return nil, err
	}

	var out ConnectResponse
	if err := decode(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartImport submits an import and returns the new operation id.
func (a *APIService) StartImport(ctx context.Context, req models.ImportRequest) (*ImportAccepted, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := a.Post(ctx, "/import", data)
	if err != nil {
		return nil, err
	}

	var out ImportAccepted
	if err := decode(resp, &out, http.StatusAccepted, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportStatus fetches the current snapshot of one import.
func (a *APIService) ImportStatus(ctx context.Context, id string) (*models.ImportOperation, error) {
	resp, err := a.Get(ctx, "/import/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: operation %s", shared.ErrNotFound, id)
	}

	var op models.ImportOperation
	if err := decode(resp, &op, http.StatusOK); err != nil {
		return nil, err
	}
	return &op, nil
}

// Imports lists recent imports, newest first. A non-positive limit returns everything the bridge retains.
func (a *APIService) Imports(ctx context.Context, limit int) ([]models.ImportOperation, error) {
	return a.listImports(ctx, "", limit)
}

// History lists finished imports from the bridge's database, newest first, including evicted ones.
func (a *APIService) History(ctx context.Context, limit int) ([]models.ImportOperation, error) {
	return a.listImports(ctx, "history", limit)
}

func (a *APIService) listImports(ctx context.Context, source string, limit int) ([]models.ImportOperation, error) {
	q := url.Values{}
	if source != "" {
		q.Set("source", source)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/imports"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := a.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	var out struct {
		Imports []models.ImportOperation `json:"imports"`
	}
	if err := decode(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Imports, nil
}

// Disconnect clears the bridge's credentials.
func (a *APIService) Disconnect(ctx context.Context) error {
	resp, err := a.Post(ctx, "/disconnect", []byte("{}"))
	if err != nil {
		return err
	}
	return decode(resp, nil, http.StatusOK, http.StatusNoContent)
}
