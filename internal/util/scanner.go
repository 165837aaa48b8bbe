package util

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// maxLineBytes bounds a single source line. Change files carry long free-text
// columns, well above bufio's 64KiB default.
const maxLineBytes = 1024 * 1024

// LineScanner wraps bufio.Scanner with 1-based line numbering, CR stripping
// and cancellation between lines.
type LineScanner struct {
	scanner *bufio.Scanner
	ctx     context.Context
	line    int
	text    string
	err     error
}

// NewLineScanner creates a LineScanner reading r until EOF or ctx is done.
func NewLineScanner(ctx context.Context, r io.Reader) *LineScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &LineScanner{scanner: scanner, ctx: ctx}
}

// Scan advances to the next line.
func (ls *LineScanner) Scan() bool {
	select {
	case <-ls.ctx.Done():
		ls.err = ls.ctx.Err()
		return false
	default:
	}
	if !ls.scanner.Scan() {
		return false
	}
	ls.line++
	ls.text = strings.TrimSuffix(ls.scanner.Text(), "\r")
	return true
}

// Text returns the current line without its terminator.
func (ls *LineScanner) Text() string {
	return ls.text
}

// Line returns the 1-based number of the current line.
func (ls *LineScanner) Line() int {
	return ls.line
}

// Err returns the first cancellation or read error.
func (ls *LineScanner) Err() error {
	if ls.err != nil {
		return ls.err
	}
	return ls.scanner.Err()
}
