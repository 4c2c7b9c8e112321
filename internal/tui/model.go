// Package tui is the live pairctl watch view, driven by the broker's state
// stream.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
	"github.com/iammorganparry/clive/apps/remote/internal/ui"
)

const commandTimeout = 10 * time.Second

// Commander issues broker commands from the watch view.
type Commander interface {
	Connect(ctx context.Context) (*models.CommandResponse, error)
	Disconnect(ctx context.Context) (*models.CommandResponse, error)
	CreatePin(ctx context.Context) (*models.PinResponse, error)
}

// StateMsg carries a snapshot from the state stream.
type StateMsg struct {
	State models.RemoteState
}

// StreamClosedMsg reports that the state stream ended.
type StreamClosedMsg struct {
	Err error
}

type tickMsg time.Time

type pinMsg struct {
	pin *models.PinResponse
	err error
}

type commandMsg struct {
	name string
	err  error
}

// Model is the watch view state.
type Model struct {
	commander Commander
	keys      KeyMap
	spinner   spinner.Model

	state    models.RemoteState
	hasState bool
	pin      *models.PinResponse // last PIN this view requested
	notice   string
	err      error
	closed   bool
	now      time.Time
	width    int
}

// NewModel creates the watch view. commander may be nil for a read-only view.
func NewModel(commander Commander) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = WarningStyle

	return Model{
		commander: commander,
		keys:      DefaultKeyMap(),
		spinner:   sp,
		now:       time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tickCmd(),
	)
}

// tickCmd drives the PIN countdown.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StateMsg:
		m.state = msg.State
		m.hasState = true
		return m, nil

	case StreamClosedMsg:
		m.closed = true
		m.err = msg.Err
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()

	case pinMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.pin = msg.pin
		m.err = nil
		m.notice = ""
		return m, nil

	case commandMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("%s: %w", msg.name, msg.err)
		} else {
			m.err = nil
			m.notice = msg.name + " ok"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case m.commander == nil:
		return m, nil
	case key.Matches(msg, m.keys.Pin):
		return m, m.createPinCmd()
	case key.Matches(msg, m.keys.Connect):
		return m, m.commandCmd("connect", m.commander.Connect)
	case key.Matches(msg, m.keys.Disconnect):
		m.pin = nil
		return m, m.commandCmd("disconnect", m.commander.Disconnect)
	}
	return m, nil
}

func (m Model) createPinCmd() tea.Cmd {
	c := m.commander
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		pin, err := c.CreatePin(ctx)
		return pinMsg{pin: pin, err: err}
	}
}

func (m Model) commandCmd(name string, fn func(context.Context) (*models.CommandResponse, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		_, err := fn(ctx)
		return commandMsg{name: name, err: err}
	}
}

// visiblePin returns the PIN code to display, if the broker still reports
// it as active.
func (m Model) visiblePin() (string, time.Duration, bool) {
	exp := m.state.PinExpiresAt
	if exp == nil {
		return "", 0, false
	}
	left := ui.Remaining(*exp, m.now)
	if left <= 0 {
		return "", 0, false
	}
	code := "••••••"
	if m.pin != nil && m.pin.ExpiresAt.Equal(*exp) {
		code = m.pin.Pin
	}
	return code, left, true
}

func (m Model) View() string {
	if !m.hasState {
		if m.closed {
			return ErrorStyle.Render(fmt.Sprintf("state stream closed: %v", m.err)) + "\n"
		}
		return m.spinner.View() + " Waiting for broker...\n"
	}

	sections := []string{
		m.renderHeader(),
		m.renderPin(),
		m.renderMobiles(),
		m.renderSessions(),
	}
	if line := m.renderMessage(); line != "" {
		sections = append(sections, line)
	}
	sections = append(sections, m.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (m Model) renderHeader() string {
	title := HeaderStyle.Render("REMOTE")
	device := DimStyle.Render(fmt.Sprintf(" %s (%s)", m.state.DeviceName, m.state.DeviceID))

	badge := statusStyle(m.state.Status).Render(strings.ToUpper(string(m.state.Status)))
	if m.state.Status == models.StatusConnecting {
		badge = m.spinner.View() + " " + badge
	}
	line := title + device + "  " + badge
	if m.state.Status == models.StatusError && m.state.Error != nil {
		line += "\n" + ErrorStyle.Render(fmt.Sprintf("  %s: %s", m.state.Error.Code, m.state.Error.Message))
	}
	return line
}

func (m Model) renderPin() string {
	code, left, ok := m.visiblePin()
	body := DimStyle.Render("no active pin")
	if ok {
		body = PinStyle.Render(code) + DimStyle.Render("  expires in "+ui.Countdown(left))
	}
	return PanelStyle.Render(PanelTitleStyle.Render("Pairing PIN") + "\n" + body)
}

func (m Model) renderMobiles() string {
	var b strings.Builder
	b.WriteString(PanelTitleStyle.Render(fmt.Sprintf("Mobiles (%d)", m.state.MobileCount)))
	if len(m.state.Mobiles) == 0 {
		b.WriteString("\n" + DimStyle.Render("none paired"))
	}
	for _, mc := range m.state.Mobiles {
		name := mc.MobileName
		if name == "" {
			name = mc.MobileID
		}
		fmt.Fprintf(&b, "\n%s %s %s",
			SuccessStyle.Render("●"),
			name,
			DimStyle.Render(fmt.Sprintf("%s · seen %s", mc.RemoteAddr, ui.Ago(mc.LastActivity, m.now))),
		)
	}
	return PanelStyle.Render(b.String())
}

func (m Model) renderSessions() string {
	var b strings.Builder
	b.WriteString(PanelTitleStyle.Render(fmt.Sprintf("Sessions (%d)", len(m.state.Sessions))))
	if len(m.state.Sessions) == 0 {
		b.WriteString("\n" + DimStyle.Render("none open"))
	}
	for _, s := range m.state.Sessions {
		workspace := s.WorkspaceName
		if workspace == "" {
			workspace = s.WorkspaceID
		}
		fmt.Fprintf(&b, "\n%s %s", workspace, DimStyle.Render(fmt.Sprintf("(%s)", s.MobileID)))
	}
	return PanelStyle.Render(b.String())
}

func (m Model) renderMessage() string {
	switch {
	case m.closed:
		return ErrorStyle.Render(fmt.Sprintf("state stream closed: %v", m.err))
	case m.err != nil:
		return ErrorStyle.Render(m.err.Error())
	case m.notice != "":
		return SuccessStyle.Render(m.notice)
	}
	return ""
}

func (m Model) renderStatusBar() string {
	var parts []string
	for _, b := range m.keys.ShortHelp() {
		if m.commander == nil && b.Help().Key != "q" {
			continue
		}
		parts = append(parts, HelpKeyStyle.Render(b.Help().Key)+" "+b.Help().Desc)
	}
	return StatusBarStyle.Render(fmt.Sprintf("v%d │ %s", m.state.Version, strings.Join(parts, " │ ")))
}
