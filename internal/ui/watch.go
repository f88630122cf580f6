package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/solminer/internal/miner"
)

// FetchFunc returns a fresh status for the watched miner.
type FetchFunc func(ctx context.Context) (*miner.DeviceStatus, error)

// Messages for async operations
type statusMsg struct {
	status *miner.DeviceStatus
	err    error
	at     time.Time
}
type tickMsg struct{}

// watchKeyMap defines key bindings for the watch screen
type watchKeyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Refresh, k.Quit}}
}

// WatchModel polls one miner and re-renders its status panel.
type WatchModel struct {
	Title    string
	Interval time.Duration

	fetch    FetchFunc
	ctx      context.Context
	fetching bool
	status   *miner.DeviceStatus
	err      error
	updated  time.Time
	width    int

	spinner spinner.Model
	help    help.Model
	keys    watchKeyMap
}

// NewWatchModel creates a watch screen that calls fetch every interval.
func NewWatchModel(ctx context.Context, title string, interval time.Duration, fetch FetchFunc) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = MutedStyle

	return WatchModel{
		Title:    title,
		Interval: interval,
		fetch:    fetch,
		ctx:      ctx,
		width:    GetTerminalWidth(),
		spinner:  s,
		help:     help.New(),
		keys: watchKeyMap{
			Refresh: key.NewBinding(
				key.WithKeys("r"),
				key.WithHelp("r", "refresh"),
			),
			Quit: key.NewBinding(
				key.WithKeys("q", "esc", "ctrl+c"),
				key.WithHelp("q", "quit"),
			),
		},
	}
}

func (m WatchModel) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		status, err := m.fetch(m.ctx)
		return statusMsg{status: status, err: err, at: time.Now()}
	}
}

func (m WatchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.Interval, func(time.Time) tea.Msg { return tickMsg{} })
}

// Init implements tea.Model
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd())
}

// Update implements tea.Model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			if m.fetching {
				return m, nil
			}
			m.fetching = true
			return m, m.fetchCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case statusMsg:
		m.fetching = false
		m.updated = msg.at
		m.err = msg.err
		if msg.status != nil {
			m.status = msg.status
		}
		return m, m.tickCmd()

	case tickMsg:
		if m.fetching {
			return m, nil
		}
		m.fetching = true
		return m, m.fetchCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model
func (m WatchModel) View() string {
	header := NewHeader(m.Title, fmt.Sprintf("refreshing every %s", m.Interval)).SetWidth(m.width).Render()

	body := m.spinner.View() + " waiting for first status..."
	if m.status != nil {
		body = RenderStatus(m.status, m.width)
	}

	footer := ""
	if m.err != nil {
		footer = ErrorMessageStyle.Render(FailureMarker+" "+miner.GetShortErrorMessage(m.err)) + "\n"
	}
	if !m.updated.IsZero() {
		updated := "updated " + m.updated.Format("15:04:05")
		if m.fetching {
			updated = m.spinner.View() + " " + updated
		}
		footer += MutedStyle.Render(updated) + "\n"
	}

	return header + "\n" + body + "\n" + footer + m.help.View(m.keys)
}

// Status returns the last status received.
func (m WatchModel) Status() *miner.DeviceStatus { return m.status }

// RunWatch runs the watch screen until the user quits or ctx is done.
func RunWatch(ctx context.Context, title string, interval time.Duration, fetch FetchFunc) error {
	p := tea.NewProgram(NewWatchModel(ctx, title, interval, fetch), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
