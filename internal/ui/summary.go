package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RoomCodeView renders the shareable room code box shown after hosting.
func RoomCodeView(code string) string {
	content := fmt.Sprintf("%s Room ready!\n\n%s Code:   %s\n%s Partner runs:  %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(code),
		IconPeer, MutedStyle.Render("tandem join "+code),
	)
	return CodeBoxStyle.Render(content)
}

// RenderRoomCode prints the room code box to stdout.
func RenderRoomCode(code string) {
	fmt.Println(RoomCodeView(code))
}

// SessionSummaryView renders the end-of-session stats table.
func SessionSummaryView(s SessionStatus, elapsed time.Duration) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Metric", "Value"})

	seat := "guest"
	if s.Hosting {
		seat = "host"
	}
	t.AppendRows([]table.Row{
		{"Room", s.RoomCode},
		{"Seat", fmt.Sprintf("%s (%s)", seat, s.Role)},
		{"Duration", elapsed.Round(time.Second).String()},
		{"Link", s.LinkState},
		{"Channel", s.Channel},
		{"Relay RTT", formatRTT(s.RTT)},
		{"ICE restarts", s.Restarts},
		{"Frames sent", fmt.Sprintf("%d (%s)", s.Sent, formatBytes(int64(s.BytesSent)))},
		{"Frames received", fmt.Sprintf("%d (%s)", s.Received, formatBytes(int64(s.BytesReceived)))},
		{"Stale discarded", s.Stale},
		{"Dropped", s.Dropped},
		{"Final score", s.Score},
	})

	return t.Render()
}

// RenderSessionSummary prints the end-of-session table.
func RenderSessionSummary(s SessionStatus, elapsed time.Duration) {
	fmt.Println(SessionSummaryView(s, elapsed))
}

// CredentialInfo is a minted TURN credential set, shaped for display.
type CredentialInfo struct {
	Username   string
	Credential string
	TTL        time.Duration
	URLs       []string
}

// CredentialsView renders TURN credentials as a table.
func CredentialsView(c CredentialInfo) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Username", c.Username},
		{"Credential", c.Credential},
		{"Valid for", c.TTL.String()},
		{"URLs", strings.Join(c.URLs, "\n")},
	})
	return t.Render()
}

// RenderCredentials prints the TURN credential table.
func RenderCredentials(c CredentialInfo) {
	fmt.Println(CredentialsView(c))
}
