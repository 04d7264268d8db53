package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const actionTimeout = 15 * time.Second

// Controller is the part of a call session the call screen drives.
type Controller interface {
	State() mesh.State
	Changes() <-chan struct{}
	Done() <-chan struct{}
	ToggleMicrophone(ctx context.Context) (bool, error)
	ToggleCamera(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error
}

type (
	stateMsg  mesh.State
	endedMsg  struct{}
	actionMsg struct {
		name string
		err  error
	}
)

// CallModel is the live call screen.
type CallModel struct {
	ctrl    Controller
	link    string
	spinner spinner.Model

	state     mesh.State
	busy      string
	lastErr   error
	quitting  bool
	ended     bool
	started   time.Time
	peersSeen map[peernet.ID]struct{}
}

func NewCallModel(ctrl Controller, link string) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &CallModel{
		ctrl:      ctrl,
		link:      link,
		spinner:   s,
		started:   time.Now(),
		peersSeen: make(map[peernet.ID]struct{}),
	}
	m.apply(ctrl.State())
	return m
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForChange())
}

// waitForChange delivers the next state change, or the end of the call.
func (m *CallModel) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctrl.Changes():
			return stateMsg(m.ctrl.State())
		case <-m.ctrl.Done():
			return endedMsg{}
		}
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "m":
			return m, m.run("microphone", func(ctx context.Context) error {
				_, err := m.ctrl.ToggleMicrophone(ctx)
				return err
			})
		case "c":
			return m, m.run("camera", m.ctrl.ToggleCamera)
		case "s":
			return m, m.run("screen share", m.ctrl.ToggleScreenShare)
		}

	case stateMsg:
		m.apply(mesh.State(msg))
		return m, m.waitForChange()

	case endedMsg:
		m.ended = true
		return m, tea.Quit

	case actionMsg:
		if m.busy == msg.name {
			m.busy = ""
		}
		m.lastErr = msg.err
		m.apply(m.ctrl.State())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// run performs one media action off the UI goroutine. Only one runs at a
// time.
func (m *CallModel) run(name string, fn func(context.Context) error) tea.Cmd {
	if m.busy != "" {
		return nil
	}
	m.busy = name
	m.lastErr = nil

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionMsg{name: name, err: fn(ctx)}
	}
}

func (m *CallModel) apply(st mesh.State) {
	m.state = st
	for _, p := range st.Peers {
		m.peersSeen[p.ID] = struct{}{}
	}
}

// PeersSeen counts everyone who was in the call with us at some point.
func (m *CallModel) PeersSeen() int { return len(m.peersSeen) }

func (m *CallModel) Duration() time.Duration { return time.Since(m.started) }

// Ended reports whether the call finished on its own rather than by the
// user quitting.
func (m *CallModel) Ended() bool { return m.ended }

func (m *CallModel) View() string {
	if m.quitting || m.ended {
		return ""
	}

	var b strings.Builder
	st := m.state

	roleIcon := IconPeer
	if st.Role == mesh.RoleHost {
		roleIcon = IconHost
	}
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, st.Room)))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s as %s\n", roleIcon, BoldStyle.Render(st.Role.String()), MutedStyle.Render(string(st.Self))))
	if st.Role == mesh.RoleHost && m.link != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", IconWeb, MutedStyle.Render(m.link)))
	}
	b.WriteString(fmt.Sprintf("%d in call\n\n", st.Participants))

	b.WriteString(strings.Join([]string{
		Badge(IconMic+" mic", st.Media.Microphone),
		Badge(IconCamera+" camera", st.Media.Camera),
		Badge(IconScreen+" screen", st.Media.ScreenSharing),
	}, " "))
	b.WriteString("\n\n")

	b.WriteString(PeerTableView(st.Peers))
	b.WriteString("\n")

	if m.busy != "" {
		b.WriteString(fmt.Sprintf("\n%s switching %s...\n", m.spinner.View(), m.busy))
	}
	if m.lastErr != nil {
		b.WriteString("\n" + ErrorStyle.Render(fmt.Sprintf("%s %v", IconError, m.lastErr)) + "\n")
	}

	b.WriteString(FooterStyle.Render("m mic · c camera · s screen share · q leave"))
	return b.String()
}

// RunCall shows the call screen until the user leaves or the call ends.
func RunCall(ctrl Controller, link string) (*CallModel, error) {
	final, err := tea.NewProgram(NewCallModel(ctrl, link)).Run()
	if err != nil {
		return nil, err
	}
	return final.(*CallModel), nil
}
