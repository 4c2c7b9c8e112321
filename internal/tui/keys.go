package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings for the watch view
type KeyMap struct {
	Pin        key.Binding
	Connect    key.Binding
	Disconnect key.Binding
	Quit       key.Binding
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Pin: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "new pin"),
		),
		Connect: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "connect"),
		),
		Disconnect: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "disconnect"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns the bindings shown in the status bar
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pin, k.Connect, k.Disconnect, k.Quit}
}
