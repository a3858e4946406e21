package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/services"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgSnapshot MsgKind = iota
	MsgTick
	MsgConnect
)

type snapshot struct {
	status  *services.StatusResponse
	imports []models.ImportOperation
	at      time.Time
	err     error
}

type connectResult struct {
	resp *services.ConnectResponse
	err  error
}

// snapshotMsg is the constructor for [MsgSnapshot]
func snapshotMsg(s snapshot) Msg {
	return Msg{kind: MsgSnapshot, data: s}
}

// tickMsg is the constructor for [MsgTick]
func tickMsg(t time.Time) Msg {
	return Msg{kind: MsgTick, data: t}
}

// connectMsg is the constructor for [MsgConnect]
func connectMsg(resp *services.ConnectResponse, err error) Msg {
	return Msg{kind: MsgConnect, data: connectResult{resp, err}}
}
