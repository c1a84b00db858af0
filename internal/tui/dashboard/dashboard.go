// Package dashboard is the live TUI view of the workspace: active sessions
// with their busy/idle state and registered guests, refreshed from the
// daemon on a timer.
package dashboard

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/switchyard-ai/switchyard/internal/client"
	"github.com/switchyard-ai/switchyard/internal/store"
)

// DefaultRefreshInterval is the auto-refresh cadence.
const DefaultRefreshInterval = 2 * time.Second

type tickMsg time.Time

type dataMsg struct {
	sessions []store.Session
	guests   []store.Guest
	err      error
}

type focusArea int

const (
	focusSessions focusArea = iota
	focusGuests
)

// KeyMap defines dashboard keybindings.
type KeyMap struct {
	CycleFocus key.Binding
	Refresh    key.Binding
	Pause      key.Binding
	Quit       key.Binding
}

var dashKeys = KeyMap{
	CycleFocus: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch panel")),
	Refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Pause:      key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause auto-refresh")),
	Quit:       key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	busyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	idleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("72"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	focusedBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))
	blurredBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))
)

// Model is the dashboard model.
type Model struct {
	client   *client.Client
	interval time.Duration

	sessions table.Model
	guests   table.Model
	focus    focusArea

	width       int
	height      int
	paused      bool
	lastRefresh time.Time
	err         error
	quitting    bool
}

// New builds a dashboard backed by a daemon client.
func New(c *client.Client) Model {
	sessionCols := []table.Column{
		{Title: "Session", Width: 14},
		{Title: "Agent", Width: 16},
		{Title: "State", Width: 6},
		{Title: "Tmux", Width: 20},
		{Title: "Last activity", Width: 20},
	}
	guestCols := []table.Column{
		{Title: "Guest", Width: 16},
		{Title: "ID", Width: 14},
		{Title: "Tmux", Width: 20},
		{Title: "Last seen", Width: 20},
	}
	st := table.New(table.WithColumns(sessionCols), table.WithFocused(true), table.WithHeight(10))
	gt := table.New(table.WithColumns(guestCols), table.WithHeight(6))

	m := Model{
		client:   c,
		interval: DefaultRefreshInterval,
		sessions: st,
		guests:   gt,
		width:    80,
		height:   24,
	}
	// Seed the layout from the real terminal size; bubbletea sends the
	// authoritative WindowSizeMsg right after startup.
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		m.width, m.height = w, h
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sessions, err := c.Sessions(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		guests, err := c.Guests(ctx, "")
		if err != nil {
			return dataMsg{err: err}
		}
		return dataMsg{sessions: sessions, guests: guests}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sessions.SetHeight(maxInt(4, (m.height-10)*2/3))
		m.guests.SetHeight(maxInt(3, (m.height-10)/3))
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, dashKeys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, dashKeys.Refresh):
			return m, m.fetch()
		case key.Matches(msg, dashKeys.Pause):
			m.paused = !m.paused
			if !m.paused {
				return m, m.tick()
			}
			return m, nil
		case key.Matches(msg, dashKeys.CycleFocus):
			if m.focus == focusSessions {
				m.focus = focusGuests
				m.sessions.Blur()
				m.guests.Focus()
			} else {
				m.focus = focusSessions
				m.guests.Blur()
				m.sessions.Focus()
			}
			return m, nil
		}

	case tickMsg:
		if m.paused {
			return m, nil
		}
		return m, tea.Batch(m.fetch(), m.tick())

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.lastRefresh = time.Now()
		m.sessions.SetRows(sessionRows(msg.sessions))
		m.guests.SetRows(guestRows(msg.guests))
		return m, nil
	}

	var cmd tea.Cmd
	if m.focus == focusSessions {
		m.sessions, cmd = m.sessions.Update(msg)
	} else {
		m.guests, cmd = m.guests.Update(msg)
	}
	return m, cmd
}

func sessionRows(sessions []store.Session) []table.Row {
	rows := make([]table.Row, 0, len(sessions))
	for _, s := range sessions {
		agent := "-"
		if s.AgentID != nil {
			agent = shorten(*s.AgentID, 16)
		}
		state := string(s.Activity)
		if s.Activity == store.ActivityBusy {
			state = busyStyle.Render(state)
		} else {
			state = idleStyle.Render(state)
		}
		rows = append(rows, table.Row{
			shorten(s.ID, 12),
			agent,
			state,
			s.TmuxSession,
			s.LastActivityAt.Format("15:04:05 Jan 02"),
		})
	}
	return rows
}

func guestRows(guests []store.Guest) []table.Row {
	rows := make([]table.Row, 0, len(guests))
	for _, g := range guests {
		rows = append(rows, table.Row{
			g.Name,
			shorten(g.ID, 12),
			g.TmuxSession,
			g.LastSeenAt.Format("15:04:05 Jan 02"),
		})
	}
	return rows
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("switchyard dashboard"))
	b.WriteString("\n\n")

	sessionPanel := blurredBorder
	guestPanel := blurredBorder
	if m.focus == focusSessions {
		sessionPanel = focusedBorder
	} else {
		guestPanel = focusedBorder
	}
	b.WriteString(sessionPanel.Render(m.sessions.View()))
	b.WriteString("\n")
	b.WriteString(guestPanel.Render(m.guests.View()))
	b.WriteString("\n")

	status := fmt.Sprintf("refreshed %s", m.lastRefresh.Format("15:04:05"))
	if m.lastRefresh.IsZero() {
		status = "loading..."
	}
	if m.paused {
		status += "  (auto-refresh paused)"
	}
	b.WriteString(dimStyle.Render(status))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errStyle.Render(wordwrap.String("error: "+m.err.Error(), maxInt(20, m.width-2))))
		b.WriteString("\n")
	}

	b.WriteString(dimStyle.Render("tab: switch panel  r: refresh  p: pause  q: quit"))
	return b.String()
}

func shorten(s string, n int) string {
	return runewidth.Truncate(s, n, "…")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Run starts the dashboard program.
func Run(c *client.Client) error {
	out := termenv.NewOutput(os.Stdout)
	out.SetWindowTitle("switchyard")
	defer out.Reset()

	p := tea.NewProgram(New(c), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
