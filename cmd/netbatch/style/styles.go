package style

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jackadi-io/netbatch/internal/executor"
)

var ColorYellow = lipgloss.Color("#e9a015")
var ColorRed = lipgloss.Color("#d0523c")
var ColorGreen = lipgloss.Color("#00aa00")
var ColorDarkRed = lipgloss.Color("#aa0000")
var ColorOrange = lipgloss.Color("#d9822b")
var ColorGray = lipgloss.Color("#888888")
var ColorBlack = lipgloss.Color("#111111")

var H1Style = lipgloss.NewStyle().Background(ColorYellow).Foreground(ColorBlack).Bold(true)
var H2Style = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
var BlockStyle = lipgloss.NewStyle().MarginLeft(4)
var EmphStyle = lipgloss.NewStyle().Foreground(ColorRed).Italic(true)
var SubtitleStyle = lipgloss.NewStyle().Foreground(ColorGray).Italic(true)
var SuccessStyle = lipgloss.NewStyle().Foreground(ColorGreen).Bold(true)
var ErrorStyle = lipgloss.NewStyle().Foreground(ColorDarkRed).Bold(true)
var TimeoutStyle = lipgloss.NewStyle().Foreground(ColorOrange).Bold(true)
var UnknownStyle = lipgloss.NewStyle().Foreground(ColorGray).Bold(true)
var IdStyle = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)

func Title(in string) string {
	in = fmt.Sprintf(" %s ", in)
	return fmt.Sprintf("\n%s\n", H1Style.Render(in))
}

func BlockTitle(in string) string {
	in = fmt.Sprintf("→ %s:", in)
	return fmt.Sprintf("\n%s\n", H2Style.Render(in))
}

func InlineBlockTitle(in string) string {
	in = fmt.Sprintf("→ %s:", in)
	return fmt.Sprintf("\n%s ", H2Style.Render(in))
}

func Block(in string) string {
	return BlockStyle.Render(strings.Trim(in, "\n"))
}

func Emph(in string) string {
	return EmphStyle.Render(in)
}

func SpacedBlock(in string) string {
	in = strings.Trim(in, "\n")
	if in == "" {
		return "\n"
	}
	return fmt.Sprintf("\n%s\n", in)
}

func Item(in string) string {
	return fmt.Sprintf(" • %s\n", in)
}

func SubItem(in string) string {
	return fmt.Sprintf("   • %s\n", in)
}

func Subtitle(in string) string {
	return fmt.Sprintf("\n%s\n", SubtitleStyle.Render(in))
}

func RenderSuccess(in string) string {
	return SuccessStyle.Render(in)
}

func RenderError(in string) string {
	return ErrorStyle.Render(in)
}

func RenderUnknown(in string) string {
	return UnknownStyle.Render(in)
}

func RenderID(in string) string {
	return IdStyle.Render(in)
}

// StatusSymbol returns the colored marker of a command status.
func StatusSymbol(status executor.Status) string {
	switch status {
	case executor.StatusOK:
		return SuccessStyle.Render("✓")
	case executor.StatusError:
		return ErrorStyle.Render("✗")
	case executor.StatusTimeout:
		return TimeoutStyle.Render("⧗")
	default:
		return UnknownStyle.Render("?")
	}
}

func PrettyPrint(in string) {
	fmt.Fprint(os.Stdout, in)
	if !strings.HasSuffix(in, "\n") {
		fmt.Fprintln(os.Stdout)
	}
}

// Fatal prints err and exits with status 1.
func Fatal(err error) {
	fmt.Fprintln(os.Stderr, RenderError(err.Error()))
	os.Exit(1)
}
