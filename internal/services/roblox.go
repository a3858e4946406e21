package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
)

// maxErrorBody caps how much of a failed response is echoed into an error.
const maxErrorBody = 512

// robloxUserInfo is the OpenID Connect userinfo payload.
type robloxUserInfo struct {
	Sub               string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
	Nickname          string `json:"nickname"`
}

// FlexString decodes a JSON string or number into a string.
//
// Asset ids come back as either depending on the endpoint.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("asset id is neither string nor number: %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

// OperationError is the failure payload of a platform operation.
type OperationError struct {
	Code    FlexString `json:"code"`
	Message string     `json:"message"`
}

func (e *OperationError) Error() string {
	switch {
	case e.Message != "" && e.Code != "":
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return string(e.Code)
	default:
		return "unknown platform error"
	}
}

// OperationResult is the success payload of a finished asset operation.
type OperationResult struct {
	AssetID     FlexString `json:"assetId"`
	DisplayName string     `json:"displayName,omitempty"`
	AssetType   string     `json:"assetType,omitempty"`
}

// Operation is a long-running asset processing job on the platform.
type Operation struct {
	Path        string           `json:"path"`
	OperationID string           `json:"operationId,omitempty"`
	Done        bool             `json:"done"`
	Error       *OperationError  `json:"error,omitempty"`
	Response    *OperationResult `json:"response,omitempty"`
}

// ID returns the operation id, taken from the last segment of Path when not given explicitly.
func (o *Operation) ID() string {
	if o.OperationID != "" {
		return o.OperationID
	}
	if o.Path == "" {
		return ""
	}
	return path.Base(strings.TrimRight(o.Path, "/"))
}

// AssetID returns the resulting asset id or "" when the operation carries none.
func (o *Operation) AssetID() string {
	if o.Response == nil {
		return ""
	}
	return string(o.Response.AssetID)
}

// AssetUpload describes one model file to create as a platform asset.
type AssetUpload struct {
	DisplayName   string
	Description   string
	CreatorUserID string
	Format        models.Format
	File          io.Reader
}

type assetCreator struct {
	UserID string `json:"userId"`
}

type assetCreationContext struct {
	Creator assetCreator `json:"creator"`
}

type assetRequest struct {
	AssetType       string               `json:"assetType"`
	DisplayName     string               `json:"displayName"`
	Description     string               `json:"description"`
	CreationContext assetCreationContext `json:"creationContext"`
}

// RobloxClient talks to the Roblox Open Cloud OAuth and Assets endpoints.
//
// Every call takes the bearer token explicitly; token lifecycle belongs to the caller.
type RobloxClient struct {
	config     shared.RobloxConfig
	httpClient *http.Client
}

// NewRobloxClient creates a client for the endpoints in config.
func NewRobloxClient(config shared.RobloxConfig, client *http.Client) *RobloxClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RobloxClient{config: config, httpClient: client}
}

// HTTPClient returns the client used for platform calls.
func (c *RobloxClient) HTTPClient() *http.Client {
	return c.httpClient
}

// UserInfo fetches the account that owns accessToken.
func (c *RobloxClient) UserInfo(ctx context.Context, accessToken string) (models.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.UserInfoURL, nil)
	if err != nil {
		return models.UserInfo{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var info robloxUserInfo
	if err := c.doJSON(req, &info, http.StatusOK); err != nil {
		return models.UserInfo{}, err
	}
	if info.Sub == "" {
		return models.UserInfo{}, fmt.Errorf("%w: userinfo response has no subject", shared.ErrAPIRequest)
	}

	display := info.Name
	if display == "" {
		display = info.Nickname
	}
	return models.UserInfo{UserID: info.Sub, Username: info.PreferredUsername, DisplayName: display}, nil
}

// Revoke invalidates token at the platform.
func (c *RobloxClient) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(c.config.ClientID), url.QueryEscape(c.config.ClientSecret))

	return c.doJSON(req, nil, http.StatusOK, http.StatusNoContent)
}

// CreateAsset streams upload to the platform as a multipart request.
//
// A 200 or 201 response yields the platform operation. 401 and 403 wrap [shared.ErrNotConnected];
// anything else wraps [shared.ErrUploadFailed].
func (c *RobloxClient) CreateAsset(ctx context.Context, accessToken string, upload AssetUpload) (*Operation, error) {
	meta, err := json.Marshal(assetRequest{
		AssetType:   "Model",
		DisplayName: upload.DisplayName,
		Description: upload.Description,
		CreationContext: assetCreationContext{
			Creator: assetCreator{UserID: upload.CreatorUserID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode asset request: %v", shared.ErrUploadFailed, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeAssetParts(mw, meta, upload))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.AssetsURL, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("%w: %v", shared.ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", shared.ErrUploadFailed, err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: upload refused with status %d: %s", shared.ErrNotConnected, resp.StatusCode, snippet(body))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", shared.ErrUploadFailed, resp.StatusCode, snippet(body))
	}

	var op Operation
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", shared.ErrUploadFailed, err)
	}
	if op.ID() == "" && !op.Done {
		return nil, fmt.Errorf("%w: response has no operation path", shared.ErrUploadFailed)
	}
	return &op, nil
}

func writeAssetParts(mw *multipart.Writer, meta []byte, upload AssetUpload) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="request"`)
	h.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(meta); err != nil {
		return err
	}

	h = make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="fileContent"; filename="model.%s"`, upload.Format))
	h.Set("Content-Type", upload.Format.ContentType())
	part, err = mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, upload.File); err != nil {
		return err
	}
	return mw.Close()
}

// GetOperation fetches the current state of a platform operation.
//
// Non-200 responses wrap [shared.ErrAPIRequest]; callers polling for completion treat them as transient.
func (c *RobloxClient) GetOperation(ctx context.Context, accessToken, operationID string) (*Operation, error) {
	endpoint := strings.TrimRight(c.config.OperationsURL, "/") + "/" + url.PathEscape(operationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var op Operation
	if err := c.doJSON(req, &op, http.StatusOK); err != nil {
		return nil, err
	}
	return &op, nil
}

// AssetURL returns the creator dashboard page for assetID.
func (c *RobloxClient) AssetURL(assetID string) string {
	if c.config.DashboardURL == "" || assetID == "" {
		return ""
	}
	if strings.Contains(c.config.DashboardURL, "%s") {
		return fmt.Sprintf(c.config.DashboardURL, assetID)
	}
	return strings.TrimRight(c.config.DashboardURL, "/") + "/" + assetID
}

// doJSON sends req and decodes a JSON body into result when the status is one of ok.
func (c *RobloxClient) doJSON(req *http.Request, result any, ok ...int) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", shared.ErrAPIRequest, err)
	}

	accepted := false
	for _, code := range ok {
		if resp.StatusCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		return &StatusError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}

	if result != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
		}
	}
	return nil
}

// StatusError is an unexpected HTTP status from the platform.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "platform returned status " + strconv.Itoa(e.StatusCode)
	}
	return fmt.Sprintf("platform returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return shared.ErrAPIRequest }

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}
