package kiln

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// showLog prints an archived build log, through a scrollable viewer when it
// does not fit on the terminal.
func showLog(path string, out io.Writer) error {
	content, err := readXZ(path)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")

	fd := int(os.Stdout.Fd())
	if out != os.Stdout || !term.IsTerminal(fd) {
		_, err := fmt.Fprintln(out, strings.Join(lines, "\n"))
		return err
	}
	if _, height, err := term.GetSize(fd); err == nil && len(lines) <= height-2 {
		_, err := fmt.Fprintln(out, strings.Join(lines, "\n"))
		return err
	}
	return runPager(filepath.Base(path), lines)
}

// runPager shows lines in a bordered tview text view; q or Esc quits.
func runPager(title string, lines []string) error {
	app := tview.NewApplication()

	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	textView.SetBorder(true).SetTitle(" " + title + " ")

	// build output keeps its ANSI colors
	fmt.Fprint(tview.ANSIWriter(textView), strings.Join(lines, "\n"))
	textView.ScrollToEnd()

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]↑/↓, PgUp/PgDn, Home/End to scroll. 'q' or Esc to quit.[white]")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(textView, 0, 1, true).
		AddItem(footer, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyCtrlQ:
			app.Stop()
			return nil
		case tcell.KeyRune:
			if event.Rune() == 'q' {
				app.Stop()
				return nil
			}
		}
		return event
	})

	if err := app.SetRoot(flex, true).SetFocus(textView).Run(); err != nil {
		return fmt.Errorf("pager execution failed: %w", err)
	}
	return nil
}
