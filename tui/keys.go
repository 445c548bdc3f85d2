package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the chat view's key bindings.
type KeyMap struct {
	// Normal mode.
	Insert   key.Binding
	Quit     key.Binding
	Up       key.Binding
	Down     key.Binding
	Home     key.Binding
	End      key.Binding
	Unselect key.Binding

	// Editing mode.
	Send key.Binding
	Stop key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Insert: key.NewBinding(
		key.WithKeys("i"),
		key.WithHelp("i", "start editing"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "exit"),
	),
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "previous"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "next"),
	),
	Home: key.NewBinding(
		key.WithKeys("home"),
		key.WithHelp("home", "first"),
	),
	End: key.NewBinding(
		key.WithKeys("end"),
		key.WithHelp("end", "last"),
	),
	Unselect: key.NewBinding(
		key.WithKeys("left"),
		key.WithHelp("←", "unselect"),
	),
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("Enter", "send the message"),
	),
	Stop: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("Esc", "stop editing"),
	),
}
