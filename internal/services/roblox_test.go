package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
)

func testRobloxConfig(base string) shared.RobloxConfig {
	cfg := shared.DefaultConfig().Roblox
	cfg.ClientID = "client-id"
	cfg.ClientSecret = "client-secret"
	cfg.UserInfoURL = base + "/oauth/v1/userinfo"
	cfg.RevokeURL = base + "/oauth/v1/token/revoke"
	cfg.AssetsURL = base + "/assets/v1/assets"
	cfg.OperationsURL = base + "/assets/v1/operations"
	return cfg
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"string", `{"assetId":"123"}`, "123"},
		{"number", `{"assetId":987654321012}`, "987654321012"},
		{"null", `{"assetId":null}`, ""},
		{"missing", `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r OperationResult
			if err := json.Unmarshal([]byte(tt.input), &r); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if string(r.AssetID) != tt.want {
				t.Errorf("expected %q, got %q", tt.want, r.AssetID)
			}
		})
	}

	t.Run("rejects objects", func(t *testing.T) {
		var r OperationResult
		if err := json.Unmarshal([]byte(`{"assetId":{"x":1}}`), &r); err == nil {
			t.Error("expected error for object asset id")
		}
	})
}

func TestOperation(t *testing.T) {
	t.Run("ID from path", func(t *testing.T) {
		op := Operation{Path: "operations/abc-123"}
		if op.ID() != "abc-123" {
			t.Errorf("expected abc-123, got %s", op.ID())
		}
	})

	t.Run("explicit id wins", func(t *testing.T) {
		op := Operation{Path: "operations/abc", OperationID: "xyz"}
		if op.ID() != "xyz" {
			t.Errorf("expected xyz, got %s", op.ID())
		}
	})

	t.Run("asset id", func(t *testing.T) {
		op := Operation{}
		if op.AssetID() != "" {
			t.Error("expected empty asset id without response")
		}
		op.Response = &OperationResult{AssetID: "55"}
		if op.AssetID() != "55" {
			t.Errorf("expected 55, got %s", op.AssetID())
		}
	})

	t.Run("error message", func(t *testing.T) {
		e := &OperationError{Code: "INVALID_ARGUMENT", Message: "mesh too large"}
		if e.Error() != "mesh too large (INVALID_ARGUMENT)" {
			t.Errorf("unexpected message %q", e.Error())
		}
		if (&OperationError{}).Error() != "unknown platform error" {
			t.Error("expected fallback message")
		}
	})
}

func TestRobloxClient(t *testing.T) {
	ctx := context.Background()

	t.Run("UserInfo", func(t *testing.T) {
		t.Run("maps claims", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer tok" {
					t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
				}
				w.Write([]byte(`{"sub":"42","preferred_username":"builder","name":"The Builder"}`))
			}))
			defer server.Close()

			info, err := NewRobloxClient(testRobloxConfig(server.URL), nil).UserInfo(ctx, "tok")
			if err != nil {
				t.Fatalf("UserInfo() error = %v", err)
			}
			want := models.UserInfo{UserID: "42", Username: "builder", DisplayName: "The Builder"}
			if info != want {
				t.Errorf("expected %+v, got %+v", want, info)
			}
		})

		t.Run("rejected token", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			}))
			defer server.Close()

			_, err := NewRobloxClient(testRobloxConfig(server.URL), nil).UserInfo(ctx, "tok")
			var se *StatusError
			if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
				t.Errorf("expected 401 StatusError, got %v", err)
			}
			if !errors.Is(err, shared.ErrAPIRequest) {
				t.Errorf("expected ErrAPIRequest, got %v", err)
			}
		})

		t.Run("missing subject", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"name":"nobody"}`))
			}))
			defer server.Close()

			if _, err := NewRobloxClient(testRobloxConfig(server.URL), nil).UserInfo(ctx, "tok"); err == nil {
				t.Error("expected error without sub claim")
			}
		})
	})

	t.Run("Revoke", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client-id" || pass != "client-secret" {
				t.Errorf("expected client basic auth, got %q %q", user, pass)
			}
			r.ParseForm()
			if r.PostForm.Get("token") != "refresh-tok" {
				t.Errorf("expected token form value, got %q", r.PostForm.Get("token"))
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		if err := NewRobloxClient(testRobloxConfig(server.URL), nil).Revoke(ctx, "refresh-tok"); err != nil {
			t.Errorf("Revoke() error = %v", err)
		}
	})

	t.Run("CreateAsset", func(t *testing.T) {
		t.Run("streams multipart body", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
				if err != nil || mediaType != "multipart/form-data" {
					t.Errorf("expected multipart body, got %q", r.Header.Get("Content-Type"))
					return
				}

				mr := multipart.NewReader(r.Body, params["boundary"])

				part, err := mr.NextPart()
				if err != nil {
					t.Errorf("missing request part: %v", err)
					return
				}
				if part.FormName() != "request" || part.Header.Get("Content-Type") != "application/json" {
					t.Errorf("unexpected first part %q %q", part.FormName(), part.Header.Get("Content-Type"))
				}
				var meta assetRequest
				json.NewDecoder(part).Decode(&meta)
				if meta.AssetType != "Model" || meta.DisplayName != "Robot" || meta.CreationContext.Creator.UserID != "42" {
					t.Errorf("unexpected metadata %+v", meta)
				}

				part, err = mr.NextPart()
				if err != nil {
					t.Errorf("missing file part: %v", err)
					return
				}
				if part.FormName() != "fileContent" || part.FileName() != "model.fbx" {
					t.Errorf("unexpected file part %q %q", part.FormName(), part.FileName())
				}
				if part.Header.Get("Content-Type") != "model/fbx" {
					t.Errorf("expected model/fbx, got %q", part.Header.Get("Content-Type"))
				}
				content, _ := io.ReadAll(part)
				if string(content) != "FBXDATA" {
					t.Errorf("unexpected file content %q", content)
				}

				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"path":"operations/op-77","done":false}`))
			}))
			defer server.Close()

			op, err := NewRobloxClient(testRobloxConfig(server.URL), nil).CreateAsset(ctx, "tok", AssetUpload{
				DisplayName:   "Robot",
				Description:   "desc",
				CreatorUserID: "42",
				Format:        models.FormatFBX,
				File:          strings.NewReader("FBXDATA"),
			})
			if err != nil {
				t.Fatalf("CreateAsset() error = %v", err)
			}
			if op.ID() != "op-77" || op.Done {
				t.Errorf("unexpected operation %+v", op)
			}
		})

		t.Run("already done", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.Copy(io.Discard, r.Body)
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte(`{"path":"operations/op-1","done":true,"response":{"assetId":12345}}`))
			}))
			defer server.Close()

			op, err := NewRobloxClient(testRobloxConfig(server.URL), nil).CreateAsset(ctx, "tok", AssetUpload{
				Format: models.FormatGLB,
				File:   strings.NewReader("glTF"),
			})
			if err != nil {
				t.Fatalf("CreateAsset() error = %v", err)
			}
			if !op.Done || op.AssetID() != "12345" {
				t.Errorf("unexpected operation %+v", op)
			}
		})

		t.Run("rejected", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.Copy(io.Discard, r.Body)
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"message":"invalid asset"}`))
			}))
			defer server.Close()

			_, err := NewRobloxClient(testRobloxConfig(server.URL), nil).CreateAsset(ctx, "tok", AssetUpload{
				Format: models.FormatOBJ,
				File:   strings.NewReader("v 0 0 0"),
			})
			if !errors.Is(err, shared.ErrUploadFailed) {
				t.Errorf("expected ErrUploadFailed, got %v", err)
			}
			if err == nil || !strings.Contains(err.Error(), "invalid asset") {
				t.Errorf("expected body in error, got %v", err)
			}
		})

		t.Run("unauthorized token", func(t *testing.T) {
			for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					io.Copy(io.Discard, r.Body)
					w.WriteHeader(status)
				}))

				_, err := NewRobloxClient(testRobloxConfig(server.URL), nil).CreateAsset(ctx, "tok", AssetUpload{
					Format: models.FormatOBJ,
					File:   strings.NewReader("v 0 0 0"),
				})
				server.Close()

				if !shared.IsAuthError(err) {
					t.Errorf("status %d: expected an auth error, got %v", status, err)
				}
				if errors.Is(err, shared.ErrUploadFailed) {
					t.Errorf("status %d: expected no ErrUploadFailed, got %v", status, err)
				}
			}
		})

		t.Run("no operation path", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.Copy(io.Discard, r.Body)
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			_, err := NewRobloxClient(testRobloxConfig(server.URL), nil).CreateAsset(ctx, "tok", AssetUpload{
				Format: models.FormatGLB,
				File:   strings.NewReader("x"),
			})
			if !errors.Is(err, shared.ErrUploadFailed) {
				t.Errorf("expected ErrUploadFailed, got %v", err)
			}
		})
	})

	t.Run("GetOperation", func(t *testing.T) {
		t.Run("done with error", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/assets/v1/operations/op-1" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.Write([]byte(`{"path":"operations/op-1","done":true,"error":{"code":3,"message":"moderation"}}`))
			}))
			defer server.Close()

			op, err := NewRobloxClient(testRobloxConfig(server.URL), nil).GetOperation(ctx, "tok", "op-1")
			if err != nil {
				t.Fatalf("GetOperation() error = %v", err)
			}
			if op.Error == nil || op.Error.Message != "moderation" || op.Error.Code != "3" {
				t.Errorf("unexpected operation error %+v", op.Error)
			}
		})

		t.Run("server error", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer server.Close()

			_, err := NewRobloxClient(testRobloxConfig(server.URL), nil).GetOperation(ctx, "tok", "op-1")
			if !errors.Is(err, shared.ErrAPIRequest) {
				t.Errorf("expected ErrAPIRequest, got %v", err)
			}
		})
	})

	t.Run("AssetURL", func(t *testing.T) {
		c := NewRobloxClient(shared.DefaultConfig().Roblox, nil)
		want := "https://create.roblox.com/dashboard/creations/store/123/configure"
		if got := c.AssetURL("123"); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
		if c.AssetURL("") != "" {
			t.Error("expected empty url for empty id")
		}
	})
}
