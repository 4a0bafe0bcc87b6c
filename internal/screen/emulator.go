// Package screen implements the Screen Emulator (spec.md §4.8): a
// reduced ANSI/CSI interpreter that derives the stable final screen
// content from a stream of PTY bytes. It exists only to pick a TTS
// selection boundary, never to drive a real display.
package screen

import (
	"strconv"
	"strings"
	"sync"
)

const maxLines = 1000

// Emulator is a mutex-guarded cursor-addressable line buffer that
// understands the CSI subset spec.md §4.8 names: EL, CUU/CUD/CUF/CUB,
// CHA, CUP. SGR is accepted and its bytes consumed, but has no effect.
type Emulator struct {
	mu    sync.Mutex
	lines []string
	row   int
	col   int

	// parsing state for a CSI sequence split across Write calls.
	inEscape bool
	inCSI    bool
	csiBuf   strings.Builder
}

// New creates an empty emulator positioned at (0,0).
func New() *Emulator {
	e := &Emulator{lines: []string{""}}
	return e
}

// Write feeds bytes to the emulator.
func (e *Emulator) Write(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range p {
		e.step(b)
	}
}

func (e *Emulator) step(b byte) {
	if e.inCSI {
		e.csiBuf.WriteByte(b)
		if b >= 0x40 && b <= 0x7e { // final byte of a CSI sequence
			e.applyCSI(b, e.csiBuf.String())
			e.inCSI = false
			e.inEscape = false
			e.csiBuf.Reset()
		}
		return
	}
	if e.inEscape {
		if b == '[' {
			e.inCSI = true
			return
		}
		// Unrecognized escape (not CSI): drop the ESC and reprocess b plainly.
		e.inEscape = false
	}
	switch b {
	case 0x1b: // ESC
		e.inEscape = true
	case '\n':
		e.row++
		e.col = 0
		e.ensureRow(e.row)
		e.trimScrollback()
	case '\r':
		e.col = 0
	default:
		e.putChar(rune(b))
	}
}

// applyCSI handles one complete "ESC [ params final" sequence. params is
// everything up to and including final.
func (e *Emulator) applyCSI(final byte, params string) {
	body := params[:len(params)-1] // drop final byte
	args := parseCSIArgs(body)
	arg := func(i, def int) int {
		if i >= len(args) || args[i] < 0 {
			return def
		}
		return args[i]
	}
	switch final {
	case 'K': // EL - erase in line
		e.eraseLine(arg(0, 0))
	case 'A': // CUU
		e.row -= arg(0, 1)
		if e.row < 0 {
			e.row = 0
		}
	case 'B': // CUD
		e.row += arg(0, 1)
		e.ensureRow(e.row)
	case 'C': // CUF
		e.col += arg(0, 1)
	case 'D': // CUB
		e.col -= arg(0, 1)
		if e.col < 0 {
			e.col = 0
		}
	case 'G': // CHA - cursor horizontal absolute (1-based)
		col := arg(0, 1) - 1
		if col < 0 {
			col = 0
		}
		e.col = col
	case 'H': // CUP - cursor position (1-based row;col)
		row := arg(0, 1) - 1
		col := arg(1, 1) - 1
		if row < 0 {
			row = 0
		}
		if col < 0 {
			col = 0
		}
		e.row, e.col = row, col
		e.ensureRow(e.row)
	case 'm': // SGR - accepted, ignored
	default:
		// Unsupported CSI final byte: ignore.
	}
}

func parseCSIArgs(body string) []int {
	if body == "" {
		return nil
	}
	parts := strings.Split(body, ";")
	out := make([]int, len(parts))
	for i, p := range parts {
		if p == "" {
			out[i] = -1
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			out[i] = -1
			continue
		}
		out[i] = n
	}
	return out
}

func (e *Emulator) eraseLine(mode int) {
	e.ensureRow(e.row)
	line := []rune(e.lines[e.row])
	switch mode {
	case 0: // cursor to end of line
		if e.col < len(line) {
			line = line[:e.col]
		}
	case 1: // start of line to cursor
		for i := 0; i < e.col && i < len(line); i++ {
			line[i] = ' '
		}
	case 2: // entire line
		line = nil
	}
	e.lines[e.row] = string(line)
}

func (e *Emulator) putChar(r rune) {
	e.ensureRow(e.row)
	line := []rune(e.lines[e.row])
	for len(line) <= e.col {
		line = append(line, ' ')
	}
	line[e.col] = r
	e.lines[e.row] = string(line)
	e.col++
}

func (e *Emulator) ensureRow(row int) {
	for len(e.lines) <= row {
		e.lines = append(e.lines, "")
	}
}

// trimScrollback drops the oldest line once the buffer exceeds maxLines,
// keeping the cursor row aligned with the new indices.
func (e *Emulator) trimScrollback() {
	if len(e.lines) <= maxLines {
		return
	}
	drop := len(e.lines) - maxLines
	e.lines = e.lines[drop:]
	e.row -= drop
	if e.row < 0 {
		e.row = 0
	}
}

// Reset clears all state (spec.md §4.8).
func (e *Emulator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lines = []string{""}
	e.row = 0
	e.col = 0
	e.inEscape = false
	e.inCSI = false
	e.csiBuf.Reset()
}

// GetScreenContent joins lines with '\n' after stripping trailing blank
// lines (spec.md §4.8).
func (e *Emulator) GetScreenContent() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	end := len(e.lines)
	for end > 0 && strings.TrimRight(e.lines[end-1], " ") == "" {
		end--
	}
	return strings.Join(e.lines[:end], "\n")
}
