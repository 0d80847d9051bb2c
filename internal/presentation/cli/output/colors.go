package output

import (
	"os"
	"sync"
)

// Color is an ANSI escape sequence.
type Color string

const (
	ColorReset  Color = "\033[0m"
	ColorRed    Color = "\033[31m"
	ColorGreen  Color = "\033[32m"
	ColorYellow Color = "\033[33m"
	ColorBlue   Color = "\033[34m"
	ColorCyan   Color = "\033[36m"
	ColorBold   Color = "\033[1m"
	ColorDim    Color = "\033[2m"
)

var (
	colorOnce    sync.Once
	colorEnabled bool
)

// IsColorSupported reports whether stdout should receive ANSI colors.
// NO_COLOR disables colors and FORCE_COLOR enables them; otherwise stdout
// must be a terminal with a usable TERM. The answer is cached.
func IsColorSupported() bool {
	colorOnce.Do(func() { colorEnabled = detectColorSupport() })
	return colorEnabled
}

// ResetColorDetection clears the cached answer of IsColorSupported.
func ResetColorDetection() {
	colorOnce = sync.Once{}
}

func detectColorSupport() bool {
	// See https://no-color.org/
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if _, ok := os.LookupEnv("FORCE_COLOR"); ok {
		return true
	}

	stat, err := os.Stdout.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice == 0 {
		return false
	}

	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// StateColor returns the color used to display an operation state.
func StateColor(state string) Color {
	switch state {
	case "pending":
		return ColorYellow
	case "processing":
		return ColorCyan
	case "failed":
		return ColorRed
	default:
		return ColorReset
	}
}

// State colorizes an operation state.
func (f *Formatter) State(state string) string {
	return f.Colorize(state, StateColor(state))
}
