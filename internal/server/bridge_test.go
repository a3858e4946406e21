package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/rbxbridge/internal/auth"
	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const frontend = "https://www.meshy.ai"

type harness struct {
	router   *MuxRouter
	auth     *MockAuthorizer
	imports  *MockImporter
	history  *MockHistoryLister
	opened   []string
	openFail bool
}

func setup(t *testing.T, ctrl *gomock.Controller) *harness {
	t.Helper()
	h := &harness{
		auth:    NewMockAuthorizer(ctrl),
		imports: NewMockImporter(ctrl),
		history: NewMockHistoryLister(ctrl),
	}

	logger := shared.NewLogger(nil)
	h.router = NewMuxRouter()
	h.router.Use(Recover(logger), Logging(logger), CORS(append(LoopbackOrigins("127.0.0.1:5330"), frontend)...))
	h.router.Handler(NewBridgeHandler(BridgeOptions{
		Version:        "1.2.3",
		FrontendOrigin: frontend,
		Auth:           h.auth,
		Imports:        h.imports,
		History:        h.history,
		OpenBrowser: func(url string) error {
			if h.openFail {
				return errors.New("no display")
			}
			h.opened = append(h.opened, url)
			return nil
		},
		Logger: logger,
	}))
	return h
}

func (h *harness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestStatus(t *testing.T) {
	t.Run("Connected", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		// given
		h.auth.EXPECT().Connected(gomock.Any()).Return(true, &models.UserInfo{UserID: "42", Username: "builder"})

		// when
		rec := h.do(t, http.MethodGet, "/status", "")

		// then
		assert.Equal(t, http.StatusOK, rec.Code)
		got := decodeBody(t, rec)
		assert.Equal(t, true, got["running"])
		assert.Equal(t, true, got["connected"])
		assert.Equal(t, "ok", got["status"])
		assert.Equal(t, shared.AppName, got["service"])
		assert.Equal(t, "1.2.3", got["version"])
		assert.Equal(t, "builder", got["user_info"].(map[string]any)["username"])
	})

	t.Run("Disconnected omits user info", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.auth.EXPECT().Connected(gomock.Any()).Return(false, nil)

		rec := h.do(t, http.MethodGet, "/status", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		got := decodeBody(t, rec)
		assert.Equal(t, false, got["connected"])
		assert.NotContains(t, got, "user_info")
	})
}

func TestAuthorization(t *testing.T) {
	start := auth.AuthorizationStart{URL: "https://apis.roblox.com/oauth/v1/authorize?state=abc", State: "abc"}

	for _, path := range []string{"/authorize", "/roblox/authorize"} {
		t.Run("Authorize via "+path, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			h := setup(t, ctrl)

			h.auth.EXPECT().BeginAuthorization(gomock.Any()).Return(start, nil)

			rec := h.do(t, http.MethodGet, path, "")

			assert.Equal(t, http.StatusOK, rec.Code)
			got := decodeBody(t, rec)
			assert.Equal(t, start.URL, got["authorization_url"])
			assert.Equal(t, start.URL, got["auth_url"])
			assert.Equal(t, "abc", got["state"])
		})
	}

	t.Run("Authorize without client credentials", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.auth.EXPECT().BeginAuthorization(gomock.Any()).Return(auth.AuthorizationStart{}, shared.ErrMissingCredentials)

		rec := h.do(t, http.MethodGet, "/authorize", "")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["detail"], "missing client credentials")
	})

	t.Run("Connect opens the browser", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.auth.EXPECT().BeginAuthorization(gomock.Any()).Return(start, nil)

		rec := h.do(t, http.MethodPost, "/connect", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		got := decodeBody(t, rec)
		assert.Equal(t, true, got["opened"])
		assert.Equal(t, start.URL, got["authorization_url"])
		assert.Equal(t, []string{start.URL}, h.opened)
	})

	t.Run("Connect reports a browser failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)
		h.openFail = true

		h.auth.EXPECT().BeginAuthorization(gomock.Any()).Return(start, nil)

		rec := h.do(t, http.MethodPost, "/connect", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		got := decodeBody(t, rec)
		assert.Equal(t, false, got["opened"])
		assert.Equal(t, start.URL, got["auth_url"])
	})

	t.Run("Disconnect", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.auth.EXPECT().Disconnect(gomock.Any()).Return(nil)

		rec := h.do(t, http.MethodPost, "/disconnect", "{}")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["disconnected"])
	})

	t.Run("Disconnect requires POST", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		rec := h.do(t, http.MethodGet, "/disconnect", "")

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestCallback(t *testing.T) {
	t.Run("Success posts to the frontend", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		// given
		h.auth.EXPECT().HandleCallback(gomock.Any(), "abc", "code-1").Return(models.TokenSet{
			AccessToken: "secret-access-token",
			User:        models.UserInfo{UserID: "42", DisplayName: "Builder <Bob>"},
		}, nil)

		// when
		rec := h.do(t, http.MethodGet, "/roblox/callback?state=abc&code=code-1", "")

		// then
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		got := rec.Body.String()
		assert.Contains(t, got, MessageOAuthSuccess)
		assert.Contains(t, got, "www.meshy.ai")
		assert.Contains(t, got, "Builder &lt;Bob&gt;")
		assert.Contains(t, got, "window.close()")
		assert.NotContains(t, got, "secret-access-token")
	})

	t.Run("State mismatch", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.auth.EXPECT().HandleCallback(gomock.Any(), "forged", "code-1").
			Return(models.TokenSet{}, fmt.Errorf("%w: unknown state", shared.ErrStateMismatch))

		rec := h.do(t, http.MethodGet, "/callback?state=forged&code=code-1", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		got := rec.Body.String()
		assert.Contains(t, got, MessageOAuthError)
		assert.Contains(t, got, "state mismatch")
		assert.NotContains(t, got, "window.close()")
	})

	t.Run("Platform rejected the code", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.auth.EXPECT().HandleCallback(gomock.Any(), "abc", "stale").
			Return(models.TokenSet{}, fmt.Errorf("%w: invalid_grant", shared.ErrPlatformRejected))

		rec := h.do(t, http.MethodGet, "/callback?state=abc&code=stale", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_grant")
	})

	t.Run("User denied", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.auth.EXPECT().DenyCallback(gomock.Any(), "abc", "access_denied", "user said no").
			Return(fmt.Errorf("%w: access_denied (user said no)", shared.ErrAuthDenied))
		h.auth.EXPECT().HandleCallback(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		rec := h.do(t, http.MethodGet, "/callback?state=abc&error=access_denied&error_description=user+said+no", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "user said no")
	})

	t.Run("Missing parameters", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		rec := h.do(t, http.MethodGet, "/callback?state=abc", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), MessageOAuthError)
	})
}

func TestImports(t *testing.T) {
	t.Run("Start import", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		// given
		h.imports.EXPECT().Start(gomock.Any(), models.ImportRequest{
			SourceURL:   "https://assets.meshy.ai/model.glb",
			Format:      models.FormatGLB,
			DisplayName: "Robot",
			Description: "A robot",
		}).Return("op-1", nil)

		// when
		rec := h.do(t, http.MethodPost, "/import",
			`{"source_url":"https://assets.meshy.ai/model.glb","format":"glb","display_name":"Robot","description":"A robot"}`)

		// then
		assert.Equal(t, http.StatusAccepted, rec.Code)
		got := decodeBody(t, rec)
		assert.Equal(t, "op-1", got["operation_id"])
		assert.Equal(t, "pending", got["status"])
	})

	t.Run("Start import with web app field names", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.imports.EXPECT().Start(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ any, req models.ImportRequest) (string, error) {
				assert.Equal(t, "https://assets.meshy.ai/tree.fbx", req.SourceURL)
				assert.Equal(t, "Tree", req.DisplayName)
				assert.Equal(t, models.FormatFBX, req.Format)
				return "op-2", nil
			})

		rec := h.do(t, http.MethodPost, "/import", `{"modelUrl":"https://assets.meshy.ai/tree.fbx","displayName":"Tree","format":"fbx"}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		rec := h.do(t, http.MethodPost, "/import", `{"source_url":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])
	})

	t.Run("Validation and rate limit errors", func(t *testing.T) {
		tests := []struct {
			err  error
			want int
		}{
			{fmt.Errorf("%w: source_url is required", shared.ErrValidation), http.StatusBadRequest},
			{fmt.Errorf("%w: slow down", shared.ErrRateLimited), http.StatusTooManyRequests},
			{fmt.Errorf("%w: shutting down", shared.ErrServiceUnavailable), http.StatusServiceUnavailable},
		}
		for _, tt := range tests {
			ctrl := gomock.NewController(t)
			h := setup(t, ctrl)

			h.imports.EXPECT().Start(gomock.Any(), gomock.Any()).Return("", tt.err)

			rec := h.do(t, http.MethodPost, "/import", `{"source_url":"https://example.com/a.glb"}`)

			assert.Equal(t, tt.want, rec.Code, tt.err.Error())
			assert.Equal(t, tt.err.Error(), decodeBody(t, rec)["detail"])
		}
	})

	for _, prefix := range []string{"/import/", "/upload-status/"} {
		t.Run("Status via "+prefix, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			h := setup(t, ctrl)

			finished := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			h.imports.EXPECT().Get("op-1").Return(models.ImportOperation{
				ID:            "op-1",
				Status:        models.StatusSucceeded,
				ResultAssetID: "12345",
				FinishedAt:    &finished,
			}, true)

			rec := h.do(t, http.MethodGet, prefix+"op-1", "")

			assert.Equal(t, http.StatusOK, rec.Code)
			got := decodeBody(t, rec)
			assert.Equal(t, "succeeded", got["status"])
			assert.Equal(t, "12345", got["asset_id"])
		})
	}

	t.Run("Unknown operation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.imports.EXPECT().Get("nope").Return(models.ImportOperation{}, false)

		rec := h.do(t, http.MethodGet, "/import/nope", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeBody(t, rec)["error"])
	})

	t.Run("List with limit", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.imports.EXPECT().List().Return([]models.ImportOperation{{ID: "c"}, {ID: "b"}, {ID: "a"}})

		rec := h.do(t, http.MethodGet, "/imports?limit=2", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var got importsBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 2, got.Count)
		assert.Equal(t, "c", got.Imports[0].ID)
	})

	t.Run("List empty is an array", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.imports.EXPECT().List().Return(nil)

		rec := h.do(t, http.MethodGet, "/imports", "")

		assert.JSONEq(t, `{"imports":[],"count":0}`, rec.Body.String())
	})

	t.Run("List history", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.history.EXPECT().List(gomock.Any(), 10).Return([]models.ImportOperation{{ID: "old", Status: models.StatusFailed}}, nil)

		rec := h.do(t, http.MethodGet, "/imports?source=history&limit=10", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"old"`)
	})

	t.Run("List rejects bad parameters", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/imports?limit=-1", "").Code)
		assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/imports?source=s3", "").Code)
	})
}

func TestCrossOrigin(t *testing.T) {
	t.Run("Foreign origin is rejected before routing", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.imports.EXPECT().Start(gomock.Any(), gomock.Any()).Times(0)

		req := httptest.NewRequest(http.MethodPost, "/import", strings.NewReader(`{"source_url":"https://evil.example/a.glb"}`))
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Frontend preflight", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		req := httptest.NewRequest(http.MethodOptions, "/import", nil)
		req.Header.Set("Origin", frontend)
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Private-Network", "true")
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, frontend, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Private-Network"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("Frontend request gets CORS headers", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.auth.EXPECT().Connected(gomock.Any()).Return(false, nil)

		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Origin", frontend)
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, frontend, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Bridge's own origin is allowed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		h := setup(t, ctrl)

		h.auth.EXPECT().Connected(gomock.Any()).Return(false, nil)

		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Origin", "http://localhost:5330")
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := setup(t, ctrl)

	rec := h.do(t, http.MethodGet, "/assets", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])
}
