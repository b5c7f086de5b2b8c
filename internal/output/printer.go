package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
	"github.com/pterm/pterm"
)

// Printer wraps pterm for styled output, respecting output modes.
// All methods are no-ops in JSON or Quiet mode.
type Printer struct {
	mode    Mode
	verbose bool
	writer  io.Writer
}

// NewPrinter creates a Printer for the given output mode.
func NewPrinter(mode Mode, verbose bool) *Printer {
	return &Printer{
		mode:    mode,
		verbose: verbose,
		writer:  os.Stdout,
	}
}

// NewPrinterWithWriter creates a Printer with a custom writer (for testing).
func NewPrinterWithWriter(mode Mode, verbose bool, w io.Writer) *Printer {
	return &Printer{
		mode:    mode,
		verbose: verbose,
		writer:  w,
	}
}

// active returns true if this printer should produce output.
func (p *Printer) active() bool {
	return p.mode == ModePlain
}

// Header prints a large styled header.
func (p *Printer) Header(text string) {
	if !p.active() {
		return
	}
	pterm.DefaultHeader.
		WithWriter(p.writer).
		WithBackgroundStyle(pterm.NewStyle(pterm.BgCyan)).
		WithTextStyle(pterm.NewStyle(pterm.FgBlack, pterm.Bold)).
		Println(text)
}

// Section prints a section header.
func (p *Printer) Section(text string) {
	if !p.active() {
		return
	}
	pterm.DefaultSection.
		WithWriter(p.writer).
		Println(text)
}

// Info prints an informational message.
func (p *Printer) Info(format string, args ...interface{}) {
	if !p.active() {
		return
	}
	pterm.Info.WithWriter(p.writer).Printfln(format, args...)
}

// Success prints a success message.
func (p *Printer) Success(format string, args ...interface{}) {
	if !p.active() {
		return
	}
	pterm.Success.WithWriter(p.writer).Printfln(format, args...)
}

// Warning prints a warning message.
func (p *Printer) Warning(format string, args ...interface{}) {
	if !p.active() {
		return
	}
	pterm.Warning.WithWriter(p.writer).Printfln(format, args...)
}

// Error prints an error message.
func (p *Printer) Error(format string, args ...interface{}) {
	if !p.active() {
		return
	}
	pterm.Error.WithWriter(p.writer).Printfln(format, args...)
}

// Debug prints a debug message (only if verbose).
func (p *Printer) Debug(format string, args ...interface{}) {
	if !p.active() || !p.verbose {
		return
	}
	dbg := &pterm.PrefixPrinter{
		Prefix: pterm.Prefix{
			Text:  " DEBUG ",
			Style: pterm.NewStyle(pterm.BgGray, pterm.FgWhite),
		},
		Writer: p.writer,
	}
	dbg.Printfln(format, args...)
}

// Table prints a table with headers and rows.
func (p *Printer) Table(headers []string, rows [][]string) {
	if !p.active() {
		return
	}
	data := pterm.TableData{headers}
	data = append(data, rows...)
	pterm.DefaultTable.
		WithWriter(p.writer).
		WithHasHeader().
		WithData(data).
		Render() //nolint:errcheck
}

// BulletItem is an item for a bullet list.
type BulletItem struct {
	Level int
	Icon  string
	Text  string
	Style *pterm.Style
}

// BulletList prints a bullet list.
func (p *Printer) BulletList(items []BulletItem) {
	if !p.active() {
		return
	}
	var bulletItems []pterm.BulletListItem
	for _, item := range items {
		bi := pterm.BulletListItem{
			Level:  item.Level,
			Text:   item.Text,
			Bullet: item.Icon,
		}
		if item.Style != nil {
			bi.TextStyle = item.Style
		}
		bulletItems = append(bulletItems, bi)
	}
	pterm.DefaultBulletList.
		WithWriter(p.writer).
		WithItems(bulletItems).
		Render() //nolint:errcheck
}

// SpinnerHandle wraps a pterm spinner.
type SpinnerHandle struct {
	spinner *pterm.SpinnerPrinter
}

// Stop stops the spinner with a success message.
func (h *SpinnerHandle) Stop(msg string) {
	if h == nil || h.spinner == nil {
		return
	}
	h.spinner.Success(msg)
}

// Fail stops the spinner with an error message.
func (h *SpinnerHandle) Fail(msg string) {
	if h == nil || h.spinner == nil {
		return
	}
	h.spinner.Fail(msg)
}

// Spinner starts a spinner with the given text.
func (p *Printer) Spinner(text string) *SpinnerHandle {
	if !p.active() {
		return nil
	}
	sp, _ := pterm.DefaultSpinner.
		WithWriter(p.writer).
		Start(text)
	return &SpinnerHandle{spinner: sp}
}

// KeyValue prints key-value pairs in a formatted way.
func (p *Printer) KeyValue(pairs [][]string) {
	if !p.active() {
		return
	}
	for _, pair := range pairs {
		if len(pair) == 2 {
			fmt.Fprintf(p.writer, "  %s  %s\n",
				pterm.LightCyan(pair[0]+":"),
				pair[1])
		}
	}
}

// Println prints a plain line.
func (p *Printer) Println(text string) {
	if !p.active() {
		return
	}
	fmt.Fprintln(p.writer, text)
}

// Printf prints a plain formatted line.
func (p *Printer) Printf(format string, args ...interface{}) {
	if !p.active() {
		return
	}
	fmt.Fprintf(p.writer, format, args...)
}

// RoleLabel returns a colored speaker label for a stored message role.
func RoleLabel(role string) string {
	switch role {
	case "user":
		return pterm.Cyan("you")
	case "assistant":
		return pterm.Green("assistant")
	default:
		return pterm.Gray(role)
	}
}

// Message prints one chat turn, wrapping its content to width columns.
func (p *Printer) Message(role, content string, width int) {
	if !p.active() {
		return
	}
	fmt.Fprintf(p.writer, "%s\n", RoleLabel(role))
	for _, para := range strings.Split(content, "\n") {
		for _, line := range Wrap(para, width-2) {
			fmt.Fprintf(p.writer, "  %s\n", line)
		}
	}
	fmt.Fprintln(p.writer)
}

// Truncate shortens s to at most width display columns, ending in "…" when
// cut. Wide runes (CJK, emoji) count as two columns.
func Truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// Wrap breaks text into lines of at most width display columns, preferring
// to break on spaces.
func Wrap(text string, width int) []string {
	if width <= 0 {
		width = 80
	}
	if runewidth.StringWidth(text) <= width {
		return []string{text}
	}

	var lines []string
	for runewidth.StringWidth(text) > width {
		col, off := 0, 0
		for i, r := range text {
			rw := runewidth.RuneWidth(r)
			if col+rw > width {
				break
			}
			col += rw
			off = i + len(string(r))
		}
		if off == 0 {
			_, size := utf8.DecodeRuneInString(text)
			off = size
		}
		cut := off
		if idx := strings.LastIndex(text[:off], " "); idx > off/3 {
			cut = idx
		}
		lines = append(lines, text[:cut])
		text = strings.TrimLeft(text[cut:], " ")
	}
	if text != "" {
		lines = append(lines, text)
	}
	return lines
}

// Divider prints a horizontal rule.
func (p *Printer) Divider() {
	if !p.active() {
		return
	}
	fmt.Fprintln(p.writer, pterm.Gray(strings.Repeat("─", 50)))
}
