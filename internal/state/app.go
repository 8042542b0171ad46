package state

import "github.com/ashureev/fluxion-chat/internal/domain"

// App is the client's application state. One App is built at startup and
// handed to the components that need it.
type App struct {
	Session  *SessionStore
	Settings *SettingsStore
}

// NewApp returns empty session state and the default LLM selection.
func NewApp() *App {
	return &App{
		Session:  NewSessionStore(),
		Settings: NewSettingsStore(domain.DefaultLLMConfig()),
	}
}

// Reset returns both stores to their initial values without notifying
// listeners.
func (a *App) Reset() {
	a.Session.Reset()
	a.Settings.Restore(domain.DefaultLLMConfig())
}
