package ui

import (
	"fmt"
	"os"
	"strings"
)

// Warn prints a warning message.
func Warn(msg string) {
	fmt.Println(Warning.Render(IconWarn + msg))
}

// Err prints an error message to stderr.
func Err(msg string) {
	styled := Error.Bold(true).Render(IconError + msg)
	fmt.Fprintln(os.Stderr, styled)
}

// Ok prints a success message.
func Ok(msg string) {
	fmt.Println(Success.Render(IconOk + msg))
}

// Inf prints an info message.
func Inf(msg string) {
	fmt.Println(Info.Render("  " + msg))
}

// Header prints a section header.
func Header(s string) {
	fmt.Println()
	fmt.Println(Title.Render(s))
	fmt.Println(Muted.Render(strings.Repeat("─", len([]rune(s))+2)))
}

// Tip prints a helpful tip.
func Tip(msg string) {
	fmt.Println()
	fmt.Println(Muted.Render("  tip: " + msg))
}

// Kv prints a key-value pair, padded.
func Kv(key string, value string) {
	k := KeyStyle.Render(fmt.Sprintf("  %-24s", key))
	v := ValueStyle.Render(value)
	fmt.Printf("%s %s\n", k, v)
}
