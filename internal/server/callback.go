package server

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

// Messages posted to the opener window.
const (
	MessageOAuthSuccess = "ROBLOX_OAUTH_SUCCESS"
	MessageOAuthError   = "ROBLOX_OAUTH_ERROR"
)

const callbackCloseDelay = 2 * time.Second

//go:embed templates
var templateFolder embed.FS

var callbackTemplate = template.Must(template.ParseFS(templateFolder, "templates/callback.html"))

type callbackPage struct {
	Title            string
	Success          bool
	Name             string
	Message          string
	MessageType      string
	Origin           string
	CloseAfterMillis int64
}

func successPage(origin, name string) callbackPage {
	return callbackPage{
		Title:            "Roblox Bridge - Connected",
		Success:          true,
		Name:             name,
		MessageType:      MessageOAuthSuccess,
		Origin:           origin,
		CloseAfterMillis: callbackCloseDelay.Milliseconds(),
	}
}

func errorPage(origin, message string) callbackPage {
	return callbackPage{
		Title:       "Roblox Bridge - Error",
		Message:     message,
		MessageType: MessageOAuthError,
		Origin:      origin,
	}
}

func renderCallback(w http.ResponseWriter, status int, page callbackPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := callbackTemplate.Execute(w, page); err != nil {
		log.Error("failed to render callback page", "error", err)
	}
}
