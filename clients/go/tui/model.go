package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/renex-id/renex/clients/go/renex"
	"github.com/renex-id/renex/clients/go/renex/thread"
)

var (
	accentColor = lipgloss.Color("#7C3AED")
	selfColor   = lipgloss.Color("#10B981")
	mutedColor  = lipgloss.Color("#9CA3AF")
	errorColor  = lipgloss.Color("#EF4444")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(mutedColor).
			Padding(0, 1)

	selfStyle  = lipgloss.NewStyle().Foreground(selfColor).Bold(true)
	otherStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
	errorStyle = lipgloss.NewStyle().Foreground(errorColor).Bold(true)

	unreadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(accentColor).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

const (
	inputHeight = 3
	// lengthWarning is the text length from which the counter is shown.
	lengthWarning = 900
)

// EndMsg stops the program. The CLI sends it when the session's poll loop
// returns.
type EndMsg struct {
	Err error
}

type sentMsg struct {
	text string
	err  error
}

// Model is the bubbletea model for one open thread.
type Model struct {
	ctx     context.Context
	session *thread.Session
	screen  *Screen

	input    textarea.Model
	timeline viewport.Model
	width    int
	height   int
	frame    frame

	err error
}

// NewModel returns a model rendering session through screen. screen must be
// the View the session was created with.
func NewModel(ctx context.Context, session *thread.Session, screen *Screen) Model {
	input := textarea.New()
	input.Placeholder = "Message @" + session.Counterpart()
	input.CharLimit = renex.MaxMessageLength
	input.ShowLineNumbers = false
	input.SetHeight(inputHeight)
	input.KeyMap.InsertNewline.SetKeys("alt+enter")
	input.Focus()

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 3

	return Model{
		ctx:      ctx,
		session:  session,
		screen:   screen,
		input:    input,
		timeline: timeline,
	}
}

// Err is the error that ended the program, if any.
func (m Model) Err() error {
	return m.err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.screen.Wait())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.SetWidth(msg.Width - 2)
		m.timeline.Width = msg.Width
		m.timeline.Height = max(msg.Height-inputHeight-5, 1)
		m.render()
		return m, nil

	case tea.FocusMsg:
		m.session.SetVisible(true)
		return m, nil

	case tea.BlurMsg:
		m.session.SetVisible(false)
		return m, nil

	case redrawMsg:
		m.render()
		return m, m.screen.Wait()

	case EndMsg:
		m.err = msg.Err
		return m, tea.Quit

	case sentMsg:
		if msg.err != nil {
			var verr *renex.ValidationError
			switch {
			case renex.IsAuth(msg.err):
				m.err = msg.err
				return m, tea.Quit
			case errors.Is(msg.err, thread.ErrSendPending), errors.Is(msg.err, thread.ErrCooldown), errors.As(msg.err, &verr):
				if m.input.Value() == "" {
					m.input.SetValue(msg.text)
				}
			}
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := m.input.Value()
			if strings.TrimSpace(text) == "" {
				return m, nil
			}
			m.input.Reset()
			m.screen.clearNotice()
			return m, m.send(text)
		case "ctrl+n":
			m.session.DismissUnread()
			return m, nil
		case "ctrl+r":
			return m, m.resendLastFailed()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			m.scrolled()
			return m, cmd
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		m.scrolled()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) send(text string) tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		_, err := session.ComposeAndSend(ctx, text)
		return sentMsg{text: text, err: err}
	}
}

func (m Model) resendLastFailed() tea.Cmd {
	for i := len(m.frame.messages) - 1; i >= 0; i-- {
		msg := m.frame.messages[i]
		if msg.Status != thread.StatusFailed {
			continue
		}
		ctx, session := m.ctx, m.session
		return func() tea.Msg {
			_, err := session.Resend(ctx, msg.TempID)
			return sentMsg{err: err}
		}
	}
	return nil
}

func (m *Model) scrolled() {
	m.screen.setDistance(m.rowsBelow())
	m.session.Scrolled()
}

func (m *Model) rowsBelow() int {
	return m.timeline.TotalLineCount() - m.timeline.YOffset - m.timeline.Height
}

// render refreshes the timeline from the screen's current frame.
func (m *Model) render() {
	m.frame = m.screen.frame()
	m.timeline.SetContent(m.timelineContent())
	if m.frame.follow {
		m.timeline.GotoBottom()
	}
	m.screen.setDistance(m.rowsBelow())
}

func (m Model) timelineContent() string {
	if len(m.frame.messages) == 0 {
		return mutedStyle.Render("No messages yet. Say hi!")
	}
	wrap := lipgloss.NewStyle()
	if m.timeline.Width > 0 {
		wrap = wrap.Width(m.timeline.Width)
	}
	var b strings.Builder
	for i, msg := range m.frame.messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(wrap.Render(renderMessage(msg)))
	}
	return b.String()
}

func renderMessage(msg thread.Message) string {
	stamp := "--:--"
	if msg.Timestamp > 0 {
		stamp = time.UnixMilli(msg.Timestamp).Format("15:04")
	}

	name := otherStyle.Render(msg.From)
	if msg.Mine {
		name = selfStyle.Render("you")
	}

	line := fmt.Sprintf("%s %s: %s", mutedStyle.Render(stamp), name, msg.Text)
	switch msg.Status {
	case thread.StatusPending:
		line += mutedStyle.Render(" (sending)")
	case thread.StatusFailed:
		line += errorStyle.Render(" (failed, ctrl+r to retry)")
	}
	return line
}

func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	title := "@" + m.session.Counterpart()
	if m.session.State() != thread.StateSteady {
		title += mutedStyle.Render("  loading...")
	}
	header := headerStyle.Width(m.width).Render(title)

	status := mutedStyle.Render("enter send · alt+enter newline · ctrl+n jump to new · esc quit")
	switch {
	case m.frame.notice != "":
		status = errorStyle.Render(m.frame.notice)
	case m.frame.cooldown:
		status = errorStyle.Render("Please wait before sending again.")
	}
	if n := renex.TextLength(m.input.Value()); n >= lengthWarning {
		status = errorStyle.Render(fmt.Sprintf("%d/%d", n, renex.MaxMessageLength)) + " " + status
	}
	if m.frame.unread > 0 {
		status = unreadStyle.Render(fmt.Sprintf("%d new", m.frame.unread)) + " " + status
	}

	footer := footerStyle.Width(m.width).Render(m.input.View() + "\n" + status)
	return lipgloss.JoinVertical(lipgloss.Left, header, m.timeline.View(), footer)
}
