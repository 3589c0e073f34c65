// Command helix-sync-tui starts a terminal monitor for the sync daemon.
//
// Usage:
//
//	helix-sync-tui --api http://localhost:9876
//
// The monitor shows:
//   - Live queue status (pending, syncing, failed counts)
//   - Gateway health and the drain schedule
//   - The operations waiting to sync, with retry state
//   - Manual drain on demand ('d')
//
// Works over SSH, tmux, screen — no GUI needed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

func main() {
	apiURL := flag.String("api", "http://localhost:9876", "helix-syncd API URL")
	interval := flag.Duration("interval", 2*time.Second, "status poll interval")
	flag.Parse()

	// Log to file — stdout is owned by the TUI
	logFile, err := os.OpenFile("helix-sync-tui.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close() //nolint:errcheck

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	client := newClient(*apiURL)
	model := newMonitorModel(client, *interval, logger)

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error running monitor: %v\n", err)
		os.Exit(1)
	}
}

// ─────────────────────────────────────────────────────
// API client
// ─────────────────────────────────────────────────────

// daemonStatus mirrors the daemon's GET /api/status response.
type daemonStatus struct {
	Queue struct {
		QueueLength int  `json:"queueLength"`
		Syncing     bool `json:"syncing"`
		FailedCount int  `json:"failedCount"`
	} `json:"queue"`
	Gateway   string `json:"gateway,omitempty"`
	Scheduler *struct {
		LastRunAt  time.Time `json:"lastRunAt,omitempty"`
		NextRunAt  time.Time `json:"nextRunAt,omitempty"`
		RunCount   int64     `json:"runCount"`
		LastSynced int       `json:"lastSynced"`
		LastFailed int       `json:"lastFailed"`
	} `json:"scheduler,omitempty"`
}

type queuedOp struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
}

type drainResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) status(ctx context.Context) (*daemonStatus, error) {
	var st daemonStatus
	if err := c.getJSON(ctx, "/api/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *client) failed(ctx context.Context) ([]queuedOp, error) {
	var ops []queuedOp
	if err := c.getJSON(ctx, "/api/queue/failed", &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func (c *client) next(ctx context.Context) (*queuedOp, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/queue/next", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // empty queue
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var op queuedOp
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *client) drain(ctx context.Context) (*drainResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/drain", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var res drainResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// ─────────────────────────────────────────────────────
// Bubble Tea messages
// ─────────────────────────────────────────────────────

type statusMsg struct {
	status *daemonStatus
	head   *queuedOp
	failed []queuedOp
	err    error
}

type drainDoneMsg struct {
	result *drainResult
	err    error
}

type tickMsg struct{}

// ─────────────────────────────────────────────────────
// Styles
// ─────────────────────────────────────────────────────

var (
	primaryColor = lipgloss.Color("#7C3AED") // violet
	mutedColor   = lipgloss.Color("#6B7280") // gray
	successColor = lipgloss.Color("#10B981") // green
	errorColor   = lipgloss.Color("#EF4444") // red
	warnColor    = lipgloss.Color("#F59E0B") // amber

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	panelTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	unknownStyle = lipgloss.NewStyle().
			Foreground(warnColor).
			Bold(true)

	opErrStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			PaddingLeft(4)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// ─────────────────────────────────────────────────────
// Monitor model
// ─────────────────────────────────────────────────────

type monitorModel struct {
	client   *client
	interval time.Duration
	logger   *slog.Logger

	status  *daemonStatus
	head    *queuedOp
	failed  []queuedOp
	lastErr error

	lastDrain *drainResult
	draining  bool

	spin   spinner.Model
	ops    viewport.Model
	width  int
	height int
	ready  bool
}

func newMonitorModel(c *client, interval time.Duration, logger *slog.Logger) monitorModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return monitorModel{
		client:   c,
		interval: interval,
		logger:   logger,
		spin:     sp,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		m.spin.Tick,
		m.fetchCmd(),
	)
}

func (m monitorModel) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		st, err := m.client.status(ctx)
		if err != nil {
			return statusMsg{err: err}
		}

		head, err := m.client.next(ctx)
		if err != nil {
			return statusMsg{status: st, err: err}
		}

		failed, err := m.client.failed(ctx)
		if err != nil {
			return statusMsg{status: st, head: head, err: err}
		}

		return statusMsg{status: st, head: head, failed: failed}
	}
}

func (m monitorModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m monitorModel) drainCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		res, err := m.client.drain(ctx)
		return drainDoneMsg{result: res, err: err}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		case "d":
			if m.draining {
				return m, nil
			}
			m.draining = true
			m.logger.Info("manual drain requested")
			return m, m.drainCmd()
		}

	case statusMsg:
		m.status = msg.status
		m.head = msg.head
		m.failed = msg.failed
		m.lastErr = msg.err
		if msg.err != nil {
			m.logger.Warn("status fetch failed", "error", msg.err)
		}
		if m.ready {
			m.ops.SetContent(m.renderOps())
		}
		return m, m.tickCmd()

	case drainDoneMsg:
		m.draining = false
		m.lastDrain = msg.result
		if msg.err != nil {
			m.lastErr = msg.err
			m.logger.Warn("drain failed", "error", msg.err)
		} else {
			m.logger.Info("drain finished",
				"synced", msg.result.Synced,
				"failed", msg.result.Failed)
		}
		return m, m.fetchCmd()

	case tickMsg:
		cmds = append(cmds, m.fetchCmd())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		opsH := m.height - 12 // header + status panel + footer
		if opsH < 3 {
			opsH = 3
		}

		if !m.ready {
			m.ops = viewport.New(m.width-4, opsH)
			m.ops.SetContent(m.renderOps())
			m.ready = true
		} else {
			m.ops.Width = m.width - 4
			m.ops.Height = opsH
			m.ops.SetContent(m.renderOps())
		}
	}

	var cmd tea.Cmd
	m.ops, cmd = m.ops.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m monitorModel) View() string {
	if !m.ready {
		return "Connecting to helix-syncd..."
	}

	header := headerStyle.Width(m.width).Render("  ⇅ Helix Sync Monitor  ")
	status := m.renderStatus()
	ops := panelStyle.Width(m.width - 2).Render(m.ops.View())
	footer := footerStyle.Render("  d: drain │ r: refresh │ ↑↓: scroll │ q: quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, status, ops, footer)
}

// ─────────────────────────────────────────────────────
// Rendering helpers
// ─────────────────────────────────────────────────────

func (m monitorModel) renderStatus() string {
	var sb strings.Builder

	sb.WriteString(panelTitle.Render("Queue"))
	sb.WriteString("\n")

	if m.lastErr != nil && m.status == nil {
		sb.WriteString(offlineStyle.Render("● daemon unreachable"))
		sb.WriteString("\n")
		sb.WriteString(labelStyle.Render(m.lastErr.Error()))
		return panelStyle.Width(m.width - 2).Render(sb.String())
	}

	if m.status == nil {
		sb.WriteString(labelStyle.Render("loading..."))
		return panelStyle.Width(m.width - 2).Render(sb.String())
	}

	syncState := labelStyle.Render("idle")
	if m.status.Queue.Syncing || m.draining {
		syncState = m.spin.View() + valueStyle.Render(" syncing")
	}

	sb.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("pending:"), valueStyle.Render(fmt.Sprintf("%d", m.status.Queue.QueueLength)),
		labelStyle.Render("failed:"), renderFailedCount(m.status.Queue.FailedCount),
		labelStyle.Render("state:"), syncState,
	))

	sb.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("gateway:"), renderGateway(m.status.Gateway)))

	if m.status.Scheduler != nil {
		s := m.status.Scheduler
		sb.WriteString(fmt.Sprintf("   %s %s   %s %s",
			labelStyle.Render("next drain:"), valueStyle.Render(renderTime(s.NextRunAt)),
			labelStyle.Render("runs:"), valueStyle.Render(fmt.Sprintf("%d", s.RunCount)),
		))
	}

	if m.lastDrain != nil {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s %s",
			labelStyle.Render("last drain:"),
			valueStyle.Render(fmt.Sprintf("%d synced, %d failed", m.lastDrain.Synced, m.lastDrain.Failed)),
		))
	}

	return panelStyle.Width(m.width - 2).Render(sb.String())
}

func (m monitorModel) renderOps() string {
	var sb strings.Builder

	sb.WriteString(panelTitle.Render("Operations"))
	sb.WriteString("\n")

	if m.head == nil && len(m.failed) == 0 {
		sb.WriteString(labelStyle.Render("Queue is empty. Messages sent while offline will appear here."))
		return sb.String()
	}

	if m.head != nil {
		sb.WriteString(m.renderOp(*m.head, "next"))
		if m.status != nil && m.status.Queue.QueueLength > 1 {
			sb.WriteString(labelStyle.Render(fmt.Sprintf("    … and %d more pending\n", m.status.Queue.QueueLength-1)))
		}
	}

	for _, op := range m.failed {
		sb.WriteString(m.renderOp(op, "failed"))
	}

	return sb.String()
}

func (m monitorModel) renderOp(op queuedOp, kind string) string {
	var indicator string
	switch kind {
	case "failed":
		indicator = offlineStyle.Render("✗")
	default:
		indicator = onlineStyle.Render("●")
	}

	age := formatDuration(time.Since(op.EnqueuedAt))
	line := fmt.Sprintf("  %s %s %s  %s  %s\n",
		indicator,
		valueStyle.Render(shortID(op.ID)),
		labelStyle.Render(op.Type),
		labelStyle.Render(fmt.Sprintf("attempts: %d", op.Attempts)),
		labelStyle.Render("queued "+age+" ago"),
	)

	if op.LastError != "" {
		line += opErrStyle.Render(op.LastError) + "\n"
	}
	return line
}

func renderGateway(status string) string {
	switch status {
	case "online":
		return onlineStyle.Render("● online")
	case "offline":
		return offlineStyle.Render("● offline")
	case "":
		return labelStyle.Render("not monitored")
	default:
		return unknownStyle.Render("◌ " + status)
	}
}

func renderFailedCount(n int) string {
	if n > 0 {
		return offlineStyle.Render(fmt.Sprintf("%d", n))
	}
	return valueStyle.Render("0")
}

func renderTime(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	d := time.Until(t)
	if d < 0 {
		return "now"
	}
	return "in " + formatDuration(d)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
