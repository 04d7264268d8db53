package ui

import (
	"fmt"
	"time"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"
)

const maxIDWidth = 24

// PeerTableView renders the remote participants of a call.
func PeerTableView(peers []mesh.PeerState) string {
	if len(peers) == 0 {
		return MutedStyle.Render("Nobody else here yet")
	}

	rows := make([][]string, 0, len(peers))
	for i, p := range peers {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			truncate(string(p.ID), maxIDWidth),
			connLabel(p),
			flag(p.Audio),
			flag(p.Video),
		})
	}

	tbl := ltable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Participant", "Status", "Audio", "Video").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == ltable.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func connLabel(p mesh.PeerState) string {
	switch {
	case p.HasStream:
		return "connected"
	case p.State == mesh.StatePending:
		return "connecting"
	default:
		return p.State.String()
	}
}

func flag(on bool) string {
	if on {
		return "yes"
	}
	return "-"
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// RoomInfoView is the box a host sees with the link to share.
func RoomInfoView(room, link string) string {
	content := fmt.Sprintf("%s Room ready!\n\n%s Room:  %s\n%s Link:  %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(room),
		IconWeb, MutedStyle.Render(link),
	)
	return SuccessBoxStyle.Render(content)
}

// CallSummary is printed after leaving a call.
type CallSummary struct {
	Room      string
	Role      mesh.Role
	Identity  string
	Duration  time.Duration
	PeersSeen int
	Reason    string
}

func CallSummaryView(s CallSummary) string {
	t := table.NewWriter()
	t.SetTitle("📊 Call Summary")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", s.Room},
		{"Role", s.Role.String()},
		{"Identity", truncate(s.Identity, 40)},
		{"Duration", s.Duration.Round(time.Second).String()},
		{"Participants met", s.PeersSeen},
		{"Ended", s.Reason},
	})
	t.SetStyle(table.StyleRounded)
	return t.Render()
}

func RenderCallSummary(s CallSummary) {
	fmt.Println(CallSummaryView(s))
}
