package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/rbxbridge/internal/auth"
	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
	"github.com/gorilla/mux"
)

//go:generate mockgen -source=bridge.go -package server -destination bridge_mock.go

// Authorizer is the account side of the bridge. Implemented by [auth.Manager].
type Authorizer interface {
	BeginAuthorization(ctx context.Context) (auth.AuthorizationStart, error)
	HandleCallback(ctx context.Context, state, code string) (models.TokenSet, error)
	DenyCallback(ctx context.Context, state, errCode, description string) error
	Disconnect(ctx context.Context) error
	Connected(ctx context.Context) (bool, *models.UserInfo)
}

// Importer runs and tracks imports. Implemented by tasks.Importer.
type Importer interface {
	Start(ctx context.Context, req models.ImportRequest) (string, error)
	Get(id string) (models.ImportOperation, bool)
	List() []models.ImportOperation
}

// HistoryLister reads persisted imports. Implemented by repositories.HistoryRepository.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]models.ImportOperation, error)
}

const maxImportBody = 64 << 10

// BridgeOptions configures a [BridgeHandler].
type BridgeOptions struct {
	Version        string
	FrontendOrigin string
	Auth           Authorizer
	Imports        Importer
	History        HistoryLister        // optional
	OpenBrowser    shared.BrowserOpener // optional; /connect reports opened=false without it
	Logger         *log.Logger
}

// BridgeHandler serves the control-plane endpoints.
type BridgeHandler struct {
	version string
	origin  string
	auth    Authorizer
	imports Importer
	history HistoryLister
	open    shared.BrowserOpener
	logger  *log.Logger
}

// NewBridgeHandler creates a BridgeHandler.
func NewBridgeHandler(opts BridgeOptions) *BridgeHandler {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &BridgeHandler{
		version: opts.Version,
		origin:  opts.FrontendOrigin,
		auth:    opts.Auth,
		imports: opts.Imports,
		history: opts.History,
		open:    opts.OpenBrowser,
		logger:  logger,
	}
}

// RegisterEndpoints implements [Handler].
func (h *BridgeHandler) RegisterEndpoints(router *mux.Router) {
	router.HandleFunc("/status", h.status()).Methods(http.MethodGet)

	router.HandleFunc("/authorize", h.authorize()).Methods(http.MethodGet)
	router.HandleFunc("/roblox/authorize", h.authorize()).Methods(http.MethodGet)
	router.HandleFunc("/connect", h.connect()).Methods(http.MethodPost)
	router.HandleFunc("/callback", h.callback()).Methods(http.MethodGet)
	router.HandleFunc("/roblox/callback", h.callback()).Methods(http.MethodGet)
	router.HandleFunc("/disconnect", h.disconnect()).Methods(http.MethodPost)

	router.HandleFunc("/import", h.startImport()).Methods(http.MethodPost)
	router.HandleFunc("/import/{operation_id}", h.importStatus()).Methods(http.MethodGet)
	router.HandleFunc("/upload-status/{operation_id}", h.importStatus()).Methods(http.MethodGet)
	router.HandleFunc("/imports", h.listImports()).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorStatus(w, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorStatus(w, http.StatusMethodNotAllowed, fmt.Sprintf("%s is not allowed on %s", r.Method, r.URL.Path))
	})
}

type statusBody struct {
	Running   bool             `json:"running"`
	Status    string           `json:"status"`
	Service   string           `json:"service"`
	Version   string           `json:"version"`
	Connected bool             `json:"connected"`
	UserInfo  *models.UserInfo `json:"user_info,omitempty"`
}

func (h *BridgeHandler) status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connected, user := h.auth.Connected(r.Context())
		writeJSON(w, http.StatusOK, statusBody{
			Running:   true,
			Status:    "ok",
			Service:   shared.AppName,
			Version:   h.version,
			Connected: connected,
			UserInfo:  user,
		})
	}
}

type authorizeBody struct {
	AuthorizationURL string `json:"authorization_url"`
	AuthURL          string `json:"auth_url"`
	State            string `json:"state,omitempty"`
	Opened           *bool  `json:"opened,omitempty"`
}

func (h *BridgeHandler) authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, err := h.auth.BeginAuthorization(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, authorizeBody{
			AuthorizationURL: start.URL,
			AuthURL:          start.URL,
			State:            start.State,
		})
	}
}

func (h *BridgeHandler) connect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, err := h.auth.BeginAuthorization(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		opened := false
		if h.open != nil {
			if err := h.open(start.URL); err != nil {
				h.logger.Warn("could not open browser, open the authorization URL manually", "error", err)
			} else {
				opened = true
			}
		}

		writeJSON(w, http.StatusOK, authorizeBody{
			AuthorizationURL: start.URL,
			AuthURL:          start.URL,
			Opened:           &opened,
		})
	}
}

func (h *BridgeHandler) callback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if code := q.Get("error"); code != "" {
			msg := "authorization was denied"
			if err := h.auth.DenyCallback(r.Context(), q.Get("state"), code, q.Get("error_description")); err != nil {
				msg = err.Error()
			}
			renderCallback(w, http.StatusBadRequest, errorPage(h.origin, msg))
			return
		}

		state, code := q.Get("state"), q.Get("code")
		if state == "" || code == "" {
			renderCallback(w, http.StatusBadRequest, errorPage(h.origin, "the callback is missing its state or code parameter"))
			return
		}

		ts, err := h.auth.HandleCallback(r.Context(), state, code)
		if err != nil {
			status := StatusFor(err)
			if shared.IsAuthError(err) {
				status = http.StatusBadRequest
			}
			renderCallback(w, status, errorPage(h.origin, err.Error()))
			return
		}

		renderCallback(w, http.StatusOK, successPage(h.origin, ts.User.Name()))
	}
}

func (h *BridgeHandler) disconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.auth.Disconnect(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"disconnected": true, "connected": false})
	}
}

// importPayload accepts both the snake_case fields and the names the web app sends.
type importPayload struct {
	SourceURL   string `json:"source_url"`
	ModelURL    string `json:"modelUrl"`
	Format      string `json:"format"`
	DisplayName string `json:"display_name"`
	DisplayAlt  string `json:"displayName"`
	Description string `json:"description"`
}

func (p importPayload) request() models.ImportRequest {
	return models.ImportRequest{
		SourceURL:   firstNonEmpty(p.SourceURL, p.ModelURL),
		Format:      models.Format(p.Format),
		DisplayName: firstNonEmpty(p.DisplayName, p.DisplayAlt),
		Description: p.Description,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type importAccepted struct {
	OperationID string        `json:"operation_id"`
	Status      models.Status `json:"status"`
}

func (h *BridgeHandler) startImport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p importPayload
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBody))
		if err := dec.Decode(&p); err != nil {
			writeError(w, fmt.Errorf("%w: invalid JSON body: %v", shared.ErrValidation, err))
			return
		}

		id, err := h.imports.Start(r.Context(), p.request())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, importAccepted{OperationID: id, Status: models.StatusPending})
	}
}

func (h *BridgeHandler) importStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["operation_id"]
		op, ok := h.imports.Get(id)
		if !ok {
			writeError(w, fmt.Errorf("%w: operation %s", shared.ErrNotFound, id))
			return
		}
		writeJSON(w, http.StatusOK, op)
	}
}

type importsBody struct {
	Imports []models.ImportOperation `json:"imports"`
	Count   int                      `json:"count"`
}

func (h *BridgeHandler) listImports() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", shared.ErrValidation))
				return
			}
			limit = n
		}

		var ops []models.ImportOperation
		switch source := r.URL.Query().Get("source"); source {
		case "", "memory":
			ops = h.imports.List()
			if limit > 0 && len(ops) > limit {
				ops = ops[:limit]
			}
		case "history":
			if h.history == nil {
				writeError(w, errors.New("import history is not available"))
				return
			}
			var err error
			if ops, err = h.history.List(r.Context(), limit); err != nil {
				writeError(w, err)
				return
			}
		default:
			writeError(w, fmt.Errorf("%w: unknown source %q", shared.ErrValidation, source))
			return
		}

		if ops == nil {
			ops = []models.ImportOperation{}
		}
		writeJSON(w, http.StatusOK, importsBody{Imports: ops, Count: len(ops)})
	}
}
