package kiln

import (
	"fmt"
	"io"
	"os"
)

// color-compatible printer interface (works with *color.Theme and *color.Style)
type colorPrinter interface {
	Sprint(a ...any) string
	Sprintf(format string, a ...any) string
}

// status prints a "-> message" line the way every build step reports progress.
// A nil writer means stdout.
func status(w io.Writer, format string, a ...any) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprint(w, colArrow.Sprint("-> "))
	fmt.Fprintln(w, colSuccess.Sprintf(format, a...))
}

// statusWith is status with a caller-chosen style for the message.
func statusWith(w io.Writer, p colorPrinter, format string, a ...any) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprint(w, colArrow.Sprint("-> "))
	if p == nil {
		fmt.Fprintf(w, format+"\n", a...)
		return
	}
	fmt.Fprintln(w, p.Sprintf(format, a...))
}
