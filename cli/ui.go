package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor   = lipgloss.Color("#F59E0B") // amber, for the "Zap" name
	secondaryColor = lipgloss.Color("#99AAB5")
	dimColor       = lipgloss.Color("#72767D")
	successColor   = lipgloss.Color("#57F287")
	errorColor     = lipgloss.Color("#ED4245")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	labelStyle = lipgloss.NewStyle().Foreground(dimColor)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5E7EB"))
	okStyle    = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(secondaryColor)
)

// banner prints the startup summary once routes, sockets, and listeners
// are all resolved, mirroring the blueprint binaries' own UI.Summary.
func banner(version, addr, socketPath string, routeCount, staticCount int) {
	fmt.Println()
	fmt.Printf("%s %s\n", "⚡", titleStyle.Render("zapd "+version))
	fmt.Printf("  %s %s\n", labelStyle.Render("http:"), valueStyle.Render(addr))
	fmt.Printf("  %s %s\n", labelStyle.Render("ipc socket:"), valueStyle.Render(socketPath))
	fmt.Printf("  %s %s\n", labelStyle.Render("routes:"), valueStyle.Render(fmt.Sprintf("%d", routeCount)))
	if staticCount > 0 {
		fmt.Printf("  %s %s\n", labelStyle.Render("static mounts:"), valueStyle.Render(fmt.Sprintf("%d", staticCount)))
	}
	fmt.Println()
}

func printOK(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", okStyle.Render("✓"), msg)
}

func printErr(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errStyle.Render("✗"), msg)
}

func printInfo(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", dimStyle.Render("·"), msg)
}
