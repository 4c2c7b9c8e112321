package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

// Table is a wrapper around tablewriter for consistent table formatting.
type Table struct {
	writer *tablewriter.Table
}

// NewTable creates a new table with headers writing to w.
func NewTable(w io.Writer, headers []string) *Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("  ")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	// One header color per column; tablewriter panics on a mismatch.
	colors := make([]tablewriter.Colors, len(headers))
	for i := range colors {
		colors[i] = tablewriter.Colors{tablewriter.Bold, tablewriter.FgCyanColor}
	}
	table.SetHeaderColor(colors...)

	return &Table{writer: table}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(row []string) {
	t.writer.Append(row)
}

// AddColoredRow adds a row with custom colors.
func (t *Table) AddColoredRow(row []string, colors []tablewriter.Colors) {
	t.writer.Rich(row, colors)
}

// Render prints the table.
func (t *Table) Render() {
	t.writer.Render()
}

// TableColor provides color constants for table cells.
var TableColor = struct {
	Green  tablewriter.Colors
	Yellow tablewriter.Colors
	Red    tablewriter.Colors
	Normal tablewriter.Colors
}{
	Green:  tablewriter.Colors{tablewriter.FgGreenColor},
	Yellow: tablewriter.Colors{tablewriter.FgYellowColor},
	Red:    tablewriter.Colors{tablewriter.FgRedColor},
	Normal: tablewriter.Colors{},
}

// RenderState writes a human readable view of st.
func RenderState(w io.Writer, st models.RemoteState, now time.Time) {
	fmt.Fprint(w, KeyValue("Status", StatusColor(st.Status)))
	fmt.Fprint(w, KeyValue("Device", fmt.Sprintf("%s %s", st.DeviceName, Dim("("+st.DeviceID+")"))))
	if st.Error != nil {
		fmt.Fprint(w, KeyValue("Error", Red(fmt.Sprintf("%s: %s", st.Error.Code, st.Error.Message))))
	}
	if st.PinExpiresAt != nil {
		fmt.Fprint(w, KeyValue("PIN expires in", Countdown(Remaining(*st.PinExpiresAt, now))))
	}
	fmt.Fprint(w, KeyValue("Version", fmt.Sprintf("%d", st.Version)))

	fmt.Fprint(w, SubHeader(fmt.Sprintf("Mobiles (%d)", st.MobileCount)))
	if len(st.Mobiles) == 0 {
		fmt.Fprintln(w, Dim("  none paired"))
	} else {
		RenderMobiles(w, st.Mobiles, now)
	}

	fmt.Fprint(w, SubHeader(fmt.Sprintf("Sessions (%d)", len(st.Sessions))))
	if len(st.Sessions) == 0 {
		fmt.Fprintln(w, Dim("  none open"))
	} else {
		RenderSessions(w, st.Sessions, now)
	}
}

// RenderMobiles writes a table of paired mobiles.
func RenderMobiles(w io.Writer, mobiles []models.MobileConnection, now time.Time) {
	t := NewTable(w, []string{"ID", "Name", "Address", "Connected", "Last seen"})
	for _, m := range mobiles {
		t.AddRow([]string{
			m.MobileID,
			m.MobileName,
			m.RemoteAddr,
			Ago(m.ConnectedAt, now),
			Ago(m.LastActivity, now),
		})
	}
	t.Render()
}

// RenderSessions writes a table of open sessions.
func RenderSessions(w io.Writer, sessions []models.Session, now time.Time) {
	t := NewTable(w, []string{"ID", "Mobile", "Workspace", "Opened"})
	for _, s := range sessions {
		workspace := s.WorkspaceName
		if workspace == "" {
			workspace = s.WorkspaceID
		}
		t.AddRow([]string{s.ID, s.MobileID, workspace, Ago(s.CreatedAt, now)})
	}
	t.Render()
}

// RenderHistory writes a table of pairing events.
func RenderHistory(w io.Writer, events []models.PairingEvent) {
	t := NewTable(w, []string{"When", "Event", "Mobile", "Name", "Reason"})
	for _, ev := range events {
		eventColor := TableColor.Green
		if ev.Event == models.EventRemoved {
			eventColor = TableColor.Yellow
		}
		t.AddColoredRow(
			[]string{
				time.Unix(ev.CreatedAt, 0).Format("2006-01-02 15:04:05"),
				string(ev.Event),
				ev.MobileID,
				ev.MobileName,
				ev.Reason,
			},
			[]tablewriter.Colors{TableColor.Normal, eventColor, TableColor.Normal, TableColor.Normal, TableColor.Normal},
		)
	}
	t.Render()
}
