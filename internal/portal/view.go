package portal

// View is one of the three screens
type View int

const (
	ViewLoading View = iota
	ViewDashboard
	ViewLogin
)

func (v View) String() string {
	switch v {
	case ViewLoading:
		return "loading"
	case ViewDashboard:
		return "dashboard"
	case ViewLogin:
		return "login"
	default:
		return "unknown"
	}
}

// SelectView picks the screen for s: loading while initializing,
// then the dashboard when a session is held, else the login form.
func SelectView(s State) View {
	switch {
	case s.Initializing:
		return ViewLoading
	case s.Session != nil:
		return ViewDashboard
	default:
		return ViewLogin
	}
}
