package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap implements help.KeyMap for the watch view footer.
type keyMap struct {
	Quit  key.Binding
	Slots key.Binding
	Help  key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Slots, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Slots},
		{k.Help, k.Quit},
	}
}

var keys = keyMap{
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Slots: key.NewBinding(key.WithKeys("s", "tab"), key.WithHelp("s", "slots")),
	Help:  key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
}

// Bindings returns every key binding of the watch view.
func Bindings() []key.Binding {
	return []key.Binding{keys.Slots, keys.Help, keys.Quit}
}
