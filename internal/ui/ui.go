package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/services"
	"github.com/desertthunder/rbxbridge/internal/shared"
)

const (
	importLimit  = 50
	fetchTimeout = 3 * time.Second
	listChrome   = 10
)

// Source is the bridge the dashboard watches. Implemented by [services.APIService].
type Source interface {
	BaseURL() string
	Status(ctx context.Context) (*services.StatusResponse, error)
	Imports(ctx context.Context, limit int) ([]models.ImportOperation, error)
	Connect(ctx context.Context) (*services.ConnectResponse, error)
}

// ViewState represents the current view in the TUI.
type ViewState int

const (
	DashboardView ViewState = iota
	DetailView
)

// Model represents the TUI application state.
type Model struct {
	ctx      context.Context
	source   Source
	refresh  time.Duration
	view     ViewState
	width    int
	height   int
	status   *services.StatusResponse
	imports  []models.ImportOperation
	list     list.Model
	selected *models.ImportOperation
	authURL  string
	updated  time.Time
	err      error
	help     help.Model
	keys     keyMap
}

// NewModel creates a dashboard polling source every refresh.
func NewModel(ctx context.Context, source Source, refresh time.Duration) *Model {
	if refresh <= 0 {
		refresh = 2 * time.Second
	}
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Recent imports"
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetStatusBarItemName("import", "imports")

	return &Model{
		ctx:     ctx,
		source:  source,
		refresh: refresh,
		view:    DashboardView,
		list:    l,
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Init fetches the first snapshot and starts the refresh timer.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(max(msg.Width-4, 0), max(msg.Height-listChrome, 0))
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) {
			return m, tea.Quit
		}
		switch m.view {
		case DashboardView:
			return m.handleDashboardKeys(msg)
		case DetailView:
			return m.handleDetailKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgSnapshot:
		s := msg.data.(snapshot)
		m.updated = s.at
		m.err = s.err
		m.status = s.status
		if s.err != nil {
			return m, nil
		}
		m.imports = s.imports
		m.refreshSelected()
		return m, m.list.SetItems(importItems(s.imports, s.at))

	case MsgTick:
		return m, tea.Batch(m.fetch(), m.tick())

	case MsgConnect:
		res := msg.data.(connectResult)
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		m.err = nil
		if !res.resp.Opened {
			m.authURL = res.resp.AuthURL
		}
		return m, m.fetch()
	}
	return m, nil
}

// refreshSelected keeps the detail view on the latest snapshot of its import.
func (m *Model) refreshSelected() {
	if m.selected == nil {
		return
	}
	for i := range m.imports {
		if m.imports[i].ID == m.selected.ID {
			op := m.imports[i]
			m.selected = &op
			return
		}
	}
}

func (m *Model) handleDashboardKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.refresh):
		return m, m.fetch()
	case key.Matches(msg, m.keys.connect):
		if m.status != nil && m.status.Connected {
			return m, nil
		}
		return m, m.connect()
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.list.SelectedItem().(importItem); ok {
			op := item.op
			m.selected = &op
			m.view = DetailView
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.back) {
		m.view = DashboardView
		m.selected = nil
	}
	return m, nil
}

func (m *Model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, fetchTimeout)
		defer cancel()

		s := snapshot{at: time.Now()}
		s.status, s.err = m.source.Status(ctx)
		if s.err != nil {
			return snapshotMsg(s)
		}
		s.imports, s.err = m.source.Imports(ctx, importLimit)
		return snapshotMsg(s)
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) connect() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, fetchTimeout)
		defer cancel()
		resp, err := m.source.Connect(ctx)
		return connectMsg(resp, err)
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case DetailView:
		return m.renderDetail()
	default:
		return m.renderDashboard()
	}
}

func (m *Model) renderDashboard() string {
	var b strings.Builder
	b.WriteString(styles.title.Render(shared.AppName + " monitor"))
	b.WriteString("\n")
	b.WriteString(m.renderBridge())
	b.WriteString("\n")
	b.WriteString(m.renderAccount())
	b.WriteString("\n")

	if m.authURL != "" {
		fmt.Fprintf(&b, "%s %s\n", styles.label.Render("Authorize"), m.authURL)
	}
	if m.err != nil && !errors.Is(m.err, shared.ErrServiceUnavailable) {
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}

	if m.status != nil && m.status.Running {
		fmt.Fprintf(&b, "%s %s\n\n", styles.label.Render("Imports"), summarize(m.imports))
		b.WriteString(m.list.View())
		b.WriteString("\n")
	}

	if !m.updated.IsZero() {
		b.WriteString(styles.help.Render("updated " + m.updated.Format(time.TimeOnly)))
		b.WriteString("\n")
	}

	helpKeys := []key.Binding{m.keys.up, m.keys.down, m.keys.enter, m.keys.refresh}
	if m.status == nil || !m.status.Connected {
		helpKeys = append(helpKeys, m.keys.connect)
	}
	helpKeys = append(helpKeys, m.keys.quit)
	b.WriteString(m.help.ShortHelpView(helpKeys))
	return b.String()
}

func (m *Model) renderBridge() string {
	label := styles.label.Render("Bridge")
	switch {
	case m.status == nil && m.err == nil:
		return fmt.Sprintf("%s connecting to %s…", label, m.source.BaseURL())
	case m.status == nil || !m.status.Running:
		return fmt.Sprintf("%s %s at %s", label, styles.err.Render("✗ not running"), m.source.BaseURL())
	default:
		return fmt.Sprintf("%s %s %s at %s", label, styles.ok.Render("● running"), m.status.Version, m.source.BaseURL())
	}
}

func (m *Model) renderAccount() string {
	label := styles.label.Render("Account")
	switch {
	case m.status == nil:
		return fmt.Sprintf("%s %s", label, styles.help.Render("unknown"))
	case m.status.Connected && m.status.UserInfo != nil:
		return fmt.Sprintf("%s %s %s", label, styles.ok.Render("✓ connected as"), m.status.UserInfo.Name())
	case m.status.Connected:
		return fmt.Sprintf("%s %s", label, styles.ok.Render("✓ connected"))
	default:
		return fmt.Sprintf("%s %s", label, styles.warn.Render("✗ not connected (press c)"))
	}
}

func (m *Model) renderDetail() string {
	if m.selected == nil {
		return m.renderDashboard()
	}
	op := m.selected

	var b strings.Builder
	b.WriteString(styles.title.Render(op.DisplayName))
	b.WriteString("\n")
	row := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s %s\n", styles.label.Render(name), value)
		}
	}
	row("ID", op.ID)
	row("Status", styles.ForStatus(op.Status).Render(op.Status.String()))
	row("Format", string(op.Format))
	row("Source", op.SourceURL)
	row("Platform", op.PlatformOperationID)
	row("Asset ID", op.ResultAssetID)
	row("Asset URL", op.AssetURL)
	if op.Status == models.StatusFailed {
		row("Error", styles.err.Render(string(op.ErrorKind))+" "+op.ErrorDetail)
	}
	row("Created", op.CreatedAt.Local().Format(time.DateTime))
	if op.FinishedAt != nil {
		row("Finished", op.FinishedAt.Local().Format(time.DateTime))
	}
	row("Duration", op.Duration(time.Now()).Round(time.Second).String())

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.back, m.keys.quit}))
	return b.String()
}

// summarize counts imports by outcome.
func summarize(ops []models.ImportOperation) string {
	var active, succeeded, failed int
	for _, op := range ops {
		switch op.Status {
		case models.StatusSucceeded:
			succeeded++
		case models.StatusFailed:
			failed++
		default:
			active++
		}
	}
	return fmt.Sprintf("%d active, %d succeeded, %d failed", active, succeeded, failed)
}
