package kiln

import (
	"errors"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gookit/color"
)

// Global variables
var (
	version    = "dev"     // overridden at build time
	buildDate  = "unknown" // overridden at build time
	ConfigFile = "/etc/kiln.conf"

	// logger carries debug diagnostics; user-facing status goes through the col* styles.
	logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "kiln",
		ReportTimestamp: false,
	})

	errPackageNotFound = errors.New("package not found")
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

// setDebug switches the diagnostic logger between info and debug level.
func setDebug(on bool) {
	if on {
		logger.SetLevel(log.DebugLevel)
		return
	}
	logger.SetLevel(log.InfoLevel)
}
