package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// evalwatch tails the server's global lifecycle feed and renders it live.

type eventEnvelope struct {
	Type     string `json:"type"`
	EvalUuid string `json:"eval_uuid"`
	At       string `json:"at"`
}

type eventMsg eventEnvelope

type connectedMsg struct{}

type feedErrMsg struct{ err error }

var styleByType = map[string]lipgloss.Style{
	"evaluation:queued":       lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	"evaluation:provisioning": lipgloss.NewStyle().Foreground(lipgloss.Color("63")),
	"evaluation:running":      lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
	"evaluation:completed":    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	"evaluation:failed":       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	"evaluation:timeout":      lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	"evaluation:cancelled":    lipgloss.NewStyle().Foreground(lipgloss.Color("99")),
}

type model struct {
	spinner   spinner.Model
	connected bool
	lines     []string
	err       error
	events    chan tea.Msg
}

func newModel(events chan tea.Msg) model {
	s := spinner.New()
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	return model{
		spinner: s,
		events:  events,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

func (m model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if !m.connected {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}

	case connectedMsg:
		m.connected = true
		return m, m.waitForEvent()

	case eventMsg:
		style, ok := styleByType[msg.Type]
		if !ok {
			style = lipgloss.NewStyle()
		}
		shortUuid := msg.EvalUuid
		if len(shortUuid) > 8 {
			shortUuid = shortUuid[:8]
		}
		line := fmt.Sprintf("%s  %s  %s",
			msg.At, shortUuid, style.Render(msg.Type))
		m.lines = append(m.lines, line)
		if len(m.lines) > 200 {
			m.lines = m.lines[len(m.lines)-200:]
		}
		return m, m.waitForEvent()

	case feedErrMsg:
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	if !m.connected {
		b.WriteString(m.spinner.View() + " connecting to event feed...\n")
	}
	for _, line := range m.lines {
		b.WriteString(line + "\n")
	}
	if m.err != nil {
		b.WriteString(fmt.Sprintf("\nfeed error: %v\n", m.err))
	}
	b.WriteString("\npress q to quit\n")
	return b.String()
}

func tailFeed(url string, events chan tea.Msg) {
	resp, err := http.Get(url)
	if err != nil {
		events <- feedErrMsg{err: err}
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		events <- feedErrMsg{err: fmt.Errorf("feed returned %s", resp.Status)}
		return
	}

	events <- tea.Msg(connectedMsg{})

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var envelope eventEnvelope
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &envelope); err != nil {
			continue
		}
		events <- eventMsg(envelope)
	}
	if err := scanner.Err(); err != nil {
		events <- feedErrMsg{err: err}
	}
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "server base URL")
	evalUuid := flag.String("eval", "", "watch a single evaluation instead of the global feed")
	flag.Parse()

	url := *serverURL + "/events"
	if *evalUuid != "" {
		url = *serverURL + "/events/" + *evalUuid
	}

	events := make(chan tea.Msg, 100)
	go tailFeed(url, events)

	p := tea.NewProgram(newModel(events))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "evalwatch: %v\n", err)
		os.Exit(1)
	}
}
