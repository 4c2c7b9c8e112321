package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/iammorganparry/clive/apps/remote/internal/client"
	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

// Run shows the watch view until the user quits. With readOnly set the view
// issues no commands.
func Run(ctx context.Context, c *client.Client, readOnly bool) error {
	var commander Commander
	if !readOnly {
		commander = c
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(commander), tea.WithAltScreen())

	go func() {
		err := c.Watch(ctx, func(st models.RemoteState) {
			p.Send(StateMsg{State: st})
		})
		if ctx.Err() == nil {
			p.Send(StreamClosedMsg{Err: err})
		}
	}()

	_, err := p.Run()
	return err
}
