package banner

import (
	"github.com/charmbracelet/lipgloss"

	"boundq/internal/tui/styles"
)

const ascii = `
    __                          __
   / /_  ____  __  ______  ____/ /___ _
  / __ \/ __ \/ / / / __ \/ __  / __ '/
 / /_/ / /_/ / /_/ / / / / /_/ / /_/ /
/_.___/\____/\__,_/_/ /_/\__,_/\__, /
                                 /_/   `

// GetString returns the banner styled for the current terminal.
func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	return "\n" + style.Render(ascii) + "\n" + styles.Subtle.Render("  bounded-concurrency request runner") + "\n"
}
