package domain

// BotInfo caches the identity returned by a successful token verification.
type BotInfo struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// ConnectionState describes the bot connection lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateVerifying    ConnectionState = "verifying"
	StateConnected    ConnectionState = "connected"
)

// Theme is the stored presentation preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	// ThemeSystem means no preference has been stored.
	ThemeSystem Theme = "system"
)

// ParseTheme validates a stored or user-supplied theme value.
func ParseTheme(value string) (Theme, bool) {
	switch Theme(value) {
	case ThemeLight, ThemeDark:
		return Theme(value), true
	default:
		return ThemeSystem, false
	}
}

// Insight is the structured AI analysis of a group.
type Insight struct {
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Suggestion string `json:"suggestion"`
}
