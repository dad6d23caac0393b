package wizard

import "github.com/lzjever/infrawiz/internal/core"

// ConnectionView is the connection the wizard acts on after comparing the
// saved link with the selected provider.
type ConnectionView struct {
	Connection core.Connection
	// Mismatch is set when a connection is saved for a provider other than
	// the selected one. The view is then disconnected for the selected
	// provider; the saved link is left alone on the backend.
	Mismatch      bool
	SavedProvider string
}

func (v ConnectionView) Connected() bool {
	return v.Connection.Status == core.Connected
}

// ReconcileConnection compares the saved connection with the selected
// provider.
func ReconcileConnection(s core.WorkspaceState) ConnectionView {
	selected := s.SelectedProvider
	if s.Connection == nil {
		return ConnectionView{Connection: core.Connection{Provider: selected, Status: core.Disconnected}}
	}
	saved := *s.Connection
	if saved.Status == "" {
		saved.Status = core.Disconnected
	}
	if selected == "" || saved.Provider == "" || saved.Provider == selected {
		if saved.Provider == "" {
			saved.Provider = selected
		}
		return ConnectionView{Connection: saved}
	}
	return ConnectionView{
		Connection:    core.Connection{Provider: selected, Status: core.Disconnected},
		Mismatch:      true,
		SavedProvider: saved.Provider,
	}
}
