// Command mapscout-monitor renders live progress for a running scrape in
// the terminal. It subscribes to the service's WebSocket progress stream
// and draws a dashboard until the scrape reaches a terminal state.
//
// Usage:
//
//	mapscout-monitor -server http://localhost:8191 -scrape-id ab12cd34
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/vantorix/mapscout/internal/progress"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	barFillStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	barEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	statusStyles = map[progress.Status]lipgloss.Style{
		progress.StatusStarting:   lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		progress.StatusScrolling:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		progress.StatusExtracting: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		progress.StatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		progress.StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}

	previewStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("248")).
			PaddingLeft(2)

	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)
)

type snapshotMsg progress.Snapshot

type streamClosedMsg struct{ err error }

// model is the bubbletea state for one monitored scrape.
type model struct {
	scrapeID string
	snaps    chan tea.Msg

	latest   progress.Snapshot
	received bool
	done     bool
	streamOK bool
	err      error
}

func (m model) Init() tea.Cmd {
	return m.waitForSnapshot()
}

// waitForSnapshot blocks on the stream channel and hands the next message
// to the update loop.
func (m model) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		return <-m.snaps
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case snapshotMsg:
		m.latest = progress.Snapshot(msg)
		m.received = true
		m.streamOK = true
		if m.latest.Status.Terminal() {
			m.done = true
			return m, nil
		}
		return m, m.waitForSnapshot()
	case streamClosedMsg:
		m.streamOK = false
		if !m.done {
			m.err = msg.err
		}
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("mapscout · scrape " + m.scrapeID))
	b.WriteString("\n")

	if !m.received {
		b.WriteString(valueStyle.Render("Waiting for progress..."))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("q to quit"))
		return b.String()
	}

	s := m.latest
	statusStyle, ok := statusStyles[s.Status]
	if !ok {
		statusStyle = valueStyle
	}

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	b.WriteString(labelStyle.Render("Status"))
	b.WriteString(statusStyle.Render(string(s.Status)))
	b.WriteString("\n")
	row("Phase", s.Phase)
	b.WriteString(labelStyle.Render("Progress"))
	b.WriteString(renderBar(s.ProgressPercent, 30))
	b.WriteString(valueStyle.Render(fmt.Sprintf(" %d%%", s.ProgressPercent)))
	b.WriteString("\n\n")

	row("Unique results", fmt.Sprintf("%d / %d", s.Stats.UniqueResults, s.Stats.TargetCount))
	row("Cards found", fmt.Sprintf("%d", s.Stats.CardsFound))
	row("Cards extracted", fmt.Sprintf("%d", s.Stats.CardsExtracted))
	row("Scrolls", fmt.Sprintf("%d / %d", s.Stats.ScrollsDone, s.Stats.MaxScrolls))
	if s.Stats.ExtractionErrors > 0 {
		row("Extract errors", fmt.Sprintf("%d", s.Stats.ExtractionErrors))
	}
	row("Elapsed", s.Stats.TimeElapsed)
	if s.Stats.ETA != "" {
		row("ETA", s.Stats.ETA)
	}

	if len(s.Preview) > 0 {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Latest results"))
		b.WriteString("\n")
		for _, rec := range s.Preview {
			line := rec.Name
			if rec.Rating != nil {
				line += fmt.Sprintf("  ★%.1f", *rec.Rating)
			}
			b.WriteString(previewStyle.Render(line))
			b.WriteString("\n")
		}
	}

	if s.ErrorMessage != "" {
		b.WriteString("\n")
		b.WriteString(errStyle.Render("Error: " + s.ErrorMessage))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errStyle.Render("Stream closed: " + m.err.Error()))
		b.WriteString("\n")
	}

	if m.done {
		b.WriteString(helpStyle.Render("Scrape finished. q to quit"))
	} else {
		b.WriteString(helpStyle.Render("q to quit"))
	}
	return b.String()
}

// renderBar draws a fixed-width progress bar.
func renderBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return barFillStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled))
}

// streamProgress reads snapshots from the WebSocket endpoint into the
// channel until the connection closes.
func streamProgress(wsURL string, out chan<- tea.Msg) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		out <- streamClosedMsg{err: fmt.Errorf("connect %s: %w", wsURL, err)}
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				out <- streamClosedMsg{}
			} else {
				out <- streamClosedMsg{err: err}
			}
			return
		}
		var snap progress.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		out <- snapshotMsg(snap)
	}
}

// wsEndpoint converts the HTTP base URL into the scrape's WebSocket URL.
func wsEndpoint(server, scrapeID string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/scrape/" + scrapeID
	return u.String(), nil
}

func main() {
	server := flag.String("server", "http://localhost:8191", "mapscout base URL")
	scrapeID := flag.String("scrape-id", "", "scrape ID to monitor (required)")
	flag.Parse()

	if *scrapeID == "" {
		fmt.Fprintln(os.Stderr, "mapscout-monitor: -scrape-id is required")
		flag.Usage()
		os.Exit(2)
	}

	wsURL, err := wsEndpoint(*server, *scrapeID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mapscout-monitor: invalid server URL: %v\n", err)
		os.Exit(2)
	}

	snaps := make(chan tea.Msg, 8)
	go streamProgress(wsURL, snaps)

	m := model{scrapeID: *scrapeID, snaps: snaps}
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "mapscout-monitor: %v\n", err)
		os.Exit(1)
	}
}
