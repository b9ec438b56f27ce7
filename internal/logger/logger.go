package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// ANSI color codes. Disabled automatically when stdout is not a terminal.
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorBold   = "\033[1m"
)

var useColor = isatty.IsTerminal(os.Stdout.Fd())

func paint(color, s string) string {
	if !useColor {
		return s
	}
	return color + s + colorReset
}

func emit(level, color, tag, msg string) {
	ts := time.Now().Format("15:04:05")
	fmt.Printf("%s %s %s %s\n",
		paint(colorGray, ts),
		paint(color, fmt.Sprintf("%-5s", level)),
		paint(colorBold, fmt.Sprintf("[%s]", tag)),
		msg)
}

// Info logs an informational message under a component tag.
func Info(tag, msg string) { emit("INFO", colorCyan, tag, msg) }

// Success logs a completed-action message.
func Success(tag, msg string) { emit("OK", colorGreen, tag, msg) }

// Warn logs a recoverable problem.
func Warn(tag, msg string) { emit("WARN", colorYellow, tag, msg) }

// Error logs a failure.
func Error(tag, msg string) { emit("ERROR", colorRed, tag, msg) }

// Banner prints the startup banner with the build version.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Println(paint(colorCyan, `  ___ __   _____       ___  ___  ____ ___ _  _  __  _  _
 | __|\ \ / / __| ___ | __|/ _ \| _ \| __| \/ |/  \| \| |
 | _|  \ V /| _| |___|| _|| (_) |   /| _|| |\/| /\ | .  |
 |___|  \_/ |___|     |_|  \___/|_|_\|___|_|  |_||_|_|\_|`))
	fmt.Printf("  %s\n\n", paint(colorGray, "industry planner "+version))
}

// Section prints a section divider for grouped statistics output.
func Section(title string) {
	fmt.Printf("\n%s\n", paint(colorBold, "── "+title+" "+"─────────────────────"))
}

// Stats prints a single aligned key/value statistic line.
func Stats(key string, value interface{}) {
	fmt.Printf("  %-16s %v\n", key, value)
}

// Server announces the listen address.
func Server(addr string) {
	fmt.Printf("\n  %s %s\n\n", paint(colorGreen, "listening on"), paint(colorBold, "http://"+addr))
}
