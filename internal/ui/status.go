package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SessionStatus is one display-ready sample of a running session. The
// command layer fills it from the session and the local world view; this
// package never touches either directly.
type SessionStatus struct {
	RoomCode string
	Hosting  bool
	Role     string
	RemoteID string

	LinkState string
	Channel   string
	RTT       time.Duration
	Restarts  int

	Sent          uint64
	Received      uint64
	Stale         uint64
	Dropped       uint64
	BytesSent     uint64
	BytesReceived uint64
	LastInbound   time.Time

	WorldTick uint64
	Speed     float64
	Score     int
	Drones    int

	LastError string
}

// statusTickMsg drives the poll cadence.
type statusTickMsg time.Time

func statusTick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

// StatusModel is the live session view: link and channel health, traffic
// rates and a one-line world readout, refreshed four times a second.
type StatusModel struct {
	poll func() SessionStatus
	spin spinner.Model

	status  SessionStatus
	prev    SessionStatus
	prevAt  time.Time
	outRate float64
	inRate  float64

	quitting bool
}

// NewStatusModel builds the live view around a status poll function.
func NewStatusModel(poll func() SessionStatus) *StatusModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &StatusModel{
		poll:   poll,
		spin:   s,
		status: poll(),
		prevAt: time.Now(),
	}
}

func (m *StatusModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, statusTick())
}

func (m *StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case statusTickMsg:
		now := time.Time(msg)
		sample := m.poll()
		if elapsed := now.Sub(m.prevAt).Seconds(); elapsed > 0 {
			m.outRate = float64(sample.Sent-m.prev.Sent) / elapsed
			m.inRate = float64(sample.Received-m.prev.Received) / elapsed
		}
		m.prev = sample
		m.prevAt = now
		m.status = sample
		if m.quitting {
			return m, nil
		}
		return m, statusTick()
	}

	return m, nil
}

func (m *StatusModel) View() string {
	if m.quitting {
		return ""
	}

	s := m.status
	var b strings.Builder

	seat := "guest"
	if s.Hosting {
		seat = "host"
	}
	b.WriteString(fmt.Sprintf("\n%s %s\n\n",
		TitleStyle.Render(IconCar+" tandem"),
		MutedStyle.Render(fmt.Sprintf("room %s · %s · %s", s.RoomCode, seat, s.Role)),
	))

	if s.LinkState != "open" {
		waiting := "connecting to partner..."
		if s.Hosting && s.RemoteID == "" {
			waiting = "waiting for a partner to join..."
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n", m.spin.View(), waiting,
			MutedStyle.Render(fmt.Sprintf("(link %s)", s.LinkState))))
	} else {
		b.WriteString(fmt.Sprintf("%s %s   rtt %s   restarts %d\n",
			LabelStyle.Render("link"),
			SuccessStyle.Render(s.LinkState),
			formatRTT(s.RTT),
			s.Restarts,
		))
		b.WriteString(fmt.Sprintf("%s %s   last frame %s\n",
			LabelStyle.Render("channel"),
			channelStyle(s.Channel).Render(s.Channel),
			formatAge(s.LastInbound),
		))
		b.WriteString(fmt.Sprintf("%s %.1f/s out · %.1f/s in   %s\n",
			LabelStyle.Render("traffic"),
			m.outRate, m.inRate,
			MutedStyle.Render(fmt.Sprintf("(%s sent · %s recv · %d stale · %d dropped)",
				formatBytes(int64(s.BytesSent)), formatBytes(int64(s.BytesReceived)),
				s.Stale, s.Dropped)),
		))
		b.WriteString(fmt.Sprintf("%s tick %d   speed %.1f   score %d   drones %d\n",
			LabelStyle.Render("world"),
			s.WorldTick, s.Speed, s.Score, s.Drones,
		))
	}

	if s.LastError != "" {
		b.WriteString("\n" + ErrorStyle.Render(IconWarning+" "+s.LastError) + "\n")
	}

	b.WriteString("\n" + MutedStyle.Render("press q to leave"))

	return b.String()
}

// RunStatus runs the live view until the user quits. Inline mode keeps
// the room code and connect output above it visible.
func RunStatus(poll func() SessionStatus) error {
	_, err := tea.NewProgram(NewStatusModel(poll)).Run()
	return err
}

func channelStyle(state string) lipgloss.Style {
	switch state {
	case "active":
		return SuccessStyle
	case "stalled":
		return WarningStyle
	default:
		return MutedStyle
	}
}

func formatRTT(rtt time.Duration) string {
	if rtt <= 0 {
		return "-"
	}
	return rtt.Round(time.Millisecond).String()
}

func formatAge(last time.Time) string {
	if last.IsZero() {
		return "-"
	}
	age := time.Since(last)
	if age < time.Second {
		return fmt.Sprintf("%dms ago", age.Milliseconds())
	}
	return fmt.Sprintf("%.1fs ago", age.Seconds())
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
