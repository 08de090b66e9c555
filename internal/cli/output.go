package cli

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// printer writes the startup display.
type printer struct {
	w io.Writer
}

func (p printer) banner(name string) {
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, "\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Fprintln(p.w, "\033[36;1m  │\033[0m             chunkkeep  v0.1.0             \033[36;1m│\033[0m")
	fmt.Fprintln(p.w, "\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Fprintln(p.w)
	fmt.Fprintf(p.w, "  \033[1mserver:\033[0m %s\n\n", name)
}

func (p printer) section(title string) {
	lineLen := 46 - utf8.RuneCountInString(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Fprintf(p.w, "  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func (p printer) stat(label string, count int) {
	num := fmt.Sprintf("%d", count)
	dots := 42 - utf8.RuneCountInString(label) - len(num)
	if dots < 3 {
		dots = 3
	}
	fmt.Fprintf(p.w, "  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dots), num)
}

func (p printer) ok(msg string) {
	fmt.Fprintf(p.w, "  \033[32m✓\033[0m %s\n", msg)
}

func (p printer) ready(msg string) {
	fmt.Fprintf(p.w, "  \033[32m▶\033[0m %s\n", msg)
}
