package banner

import (
	"github.com/charmbracelet/lipgloss"

	"syncq/internal/tui/styles"
)

const ascii = `
   _____                  ____ 
  / ___/__  ______  _____/ __ \
  \__ \/ / / / __ \/ ___/ / / /
 ___/ / /_/ / / / / /__/ /_/ / 
/____/\__, /_/ /_/\___/\___\_\ 
     /____/                    `

const tagline = "WebSocket load testing with end-to-end message correlation"

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	art := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)
	sub := renderer.NewStyle().Foreground(styles.ColorSubtle)

	return "\n" + art.Render(ascii) + "\n" + sub.Render(tagline) + "\n"
}
