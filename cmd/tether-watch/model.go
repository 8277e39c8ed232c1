// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tether-foundation/tether/lib/service"
	"github.com/tether-foundation/tether/lib/wire"
)

// fetchTimeout bounds one poll's two status calls.
const fetchTimeout = 5 * time.Second

// fetcher is the poll seam: the model needs only the two status
// calls, so tests substitute canned data.
type fetcher interface {
	Fetch() snapshotMsg
}

// socketFetcher polls a daemon's status socket.
type socketFetcher struct {
	client *service.Client
}

var _ fetcher = (*socketFetcher)(nil)

// Fetch runs the binding and endpoints queries. A failure lands in
// the snapshot's err field; the dashboard keeps the last good data on
// screen and shows the error in the footer.
func (f *socketFetcher) Fetch() snapshotMsg {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	var snapshot snapshotMsg
	snapshot.at = time.Now()
	if err := f.client.Call(ctx, "binding", nil, &snapshot.binding); err != nil {
		snapshot.err = err
		return snapshot
	}
	if err := f.client.Call(ctx, "endpoints", nil, &snapshot.endpoints); err != nil {
		snapshot.err = err
		return snapshot
	}
	return snapshot
}

// snapshotMsg carries one poll's results through the bubbletea loop.
type snapshotMsg struct {
	binding   wire.BindingStatus
	endpoints wire.EndpointList
	err       error
	at        time.Time
}

// tickMsg schedules the next poll.
type tickMsg struct{}

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	stateStyles = map[string]lipgloss.Style{
		"bound":              lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		"migrating":          lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		"awaiting_reconnect": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		"unbound":            lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("243")),
	}

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// model is the dashboard's bubbletea model.
type model struct {
	fetcher  fetcher
	interval time.Duration

	table    table.Model
	binding  wire.BindingStatus
	fetched  time.Time
	err      error
	hasData  bool
	width    int
	quitting bool
}

func newModel(f fetcher, interval time.Duration) *model {
	columns := []table.Column{
		{Title: "", Width: 2},
		{Title: "ENDPOINT", Width: 24},
		{Title: "SCORE", Width: 7},
		{Title: "LIVE", Width: 5},
		{Title: "CHANNELS", Width: 48},
	}
	endpointTable := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Selected = styles.Selected.Bold(true)
	endpointTable.SetStyles(styles)

	return &model{
		fetcher:  f,
		interval: interval,
		table:    endpointTable,
	}
}

// Init starts the first poll immediately.
func (m *model) Init() tea.Cmd {
	return m.poll
}

func (m *model) poll() tea.Msg {
	return m.fetcher.Fetch()
}

func (m *model) scheduleTick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// Update implements tea.Model.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.fetched = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.binding = msg.binding
			m.table.SetRows(endpointRows(msg.endpoints))
			m.hasData = true
		}
		return m, m.scheduleTick()

	case tickMsg:
		return m, m.poll

	case tea.WindowSizeMsg:
		m.width = msg.Width
		// Banner, table header, footer, and help line take 8 rows.
		height := msg.Height - 8
		if height < 3 {
			height = 3
		}
		m.table.SetHeight(height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.poll
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *model) View() string {
	if m.quitting {
		return ""
	}
	if !m.hasData && m.err == nil {
		return helpStyle.Render("connecting...")
	}

	sections := []string{m.banner(), m.table.View(), m.footer()}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *model) banner() string {
	state := m.binding.State
	style, ok := stateStyles[state]
	if !ok {
		style = bannerStyle
	}

	line := fmt.Sprintf("%s %s",
		labelStyle.Render("principal"), m.binding.Principal)
	line += fmt.Sprintf("  %s %s", labelStyle.Render("state"), style.Render(state))
	if !m.binding.Endpoint.IsZero() {
		line += fmt.Sprintf("  %s %s", labelStyle.Render("endpoint"), m.binding.Endpoint)
		line += fmt.Sprintf("  %s %s", labelStyle.Render("transport"), m.binding.Transport)
		line += fmt.Sprintf("  %s %d", labelStyle.Render("gen"), m.binding.Generation)
	}
	return bannerStyle.Render(line)
}

func (m *model) footer() string {
	help := helpStyle.Render("q quit · r refresh")
	if m.err != nil {
		return errorStyle.Render("poll failed: "+m.err.Error()) + "\n" + help
	}
	if !m.fetched.IsZero() {
		return helpStyle.Render("updated "+m.fetched.Format("15:04:05")) + "\n" + help
	}
	return help
}

// endpointRows converts the endpoints payload to table rows, nearest
// endpoint marked in the first column.
func endpointRows(list wire.EndpointList) []table.Row {
	rows := make([]table.Row, 0, len(list.Endpoints))
	for _, endpoint := range list.Endpoints {
		marker := ""
		if endpoint.Nearest {
			marker = "●"
		}
		live := "no"
		if endpoint.Live {
			live = "yes"
		}
		rows = append(rows, table.Row{
			marker,
			endpoint.Endpoint.String(),
			fmt.Sprintf("%.3f", endpoint.Score),
			live,
			channelBadges(endpoint.Channels),
		})
	}
	return rows
}

// channelBadges renders per-channel states compactly: up channels by
// name, down channels bracketed.
func channelBadges(channels []wire.ChannelHealth) string {
	out := ""
	for i, channel := range channels {
		if i > 0 {
			out += " "
		}
		if channel.State == "up" {
			out += channel.Channel.String()
		} else {
			out += "[" + channel.Channel.String() + "]"
		}
	}
	return out
}
