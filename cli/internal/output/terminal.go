package output

import (
	"os"
	"strconv"
)

// getTerminalWidth returns the width used to pick a table layout. The
// COLUMNS override wins so output is testable in CI, then the platform
// console query, then defaultWidth.
func getTerminalWidth() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if width, err := strconv.Atoi(cols); err == nil && width > 0 {
			return width
		}
	}
	if width := consoleWidth(); width > 0 {
		return width
	}
	return defaultWidth
}
