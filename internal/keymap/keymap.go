// Package keymap resolves a symbolic key specification such as "C-x",
// "Enter", or "A-Up" to the byte sequence a real terminal would send
// for that keystroke. Resolution is a pure function of the spec string
// and the emulator's current cursor-key mode; it performs no I/O.
package keymap

import (
	"fmt"
	"strings"
	"unicode"
)

// ModeProvider supplies the cursor-key mode the emulator is currently
// in, since the same arrow key spec resolves differently in DECCKM
// application mode.
type ModeProvider interface {
	CursorKeyAppMode() bool
}

var namedKeys = map[string]bool{
	"Enter": true, "Space": true, "Escape": true, "Tab": true,
	"Up": true, "Down": true, "Left": true, "Right": true,
	"Home": true, "End": true, "PageUp": true, "PageDown": true,
	"F1": true, "F2": true, "F3": true, "F4": true, "F5": true, "F6": true,
	"F7": true, "F8": true, "F9": true, "F10": true, "F11": true, "F12": true,
}

var arrowLetter = map[string]byte{"Up": 'A', "Down": 'B', "Right": 'C', "Left": 'D'}
var homeEndLetter = map[string]byte{"Home": 'H', "End": 'F'}
var f1to4Letter = map[string]byte{"F1": 'P', "F2": 'Q', "F3": 'R', "F4": 'S'}
var tildeCode = map[string]int{
	"PageUp": 5, "PageDown": 6,
	"F5": 15, "F6": 17, "F7": 18, "F8": 19, "F9": 20, "F10": 21, "F11": 23, "F12": 24,
}
var simpleByte = map[string]byte{"Enter": '\r', "Tab": '\t', "Escape": 0x1b, "Space": ' '}

// Resolve turns a key specification into the bytes to write to the PTY.
// mode may be nil, in which case arrows resolve as if DECCKM were off.
func Resolve(spec string, mode ModeProvider) []byte {
	if b, ok := caretForm(spec); ok {
		return b
	}

	ctrl, shift, alt, base := peelModifiers(spec)
	appMode := mode != nil && mode.CursorKeyAppMode()

	if namedKeys[base] {
		if b, ok := encodeNamed(base, ctrl, shift, alt, appMode); ok {
			return b
		}
		return []byte(spec)
	}

	switch {
	case ctrl && alt && !shift:
		if b, ok := controlByte(base); ok {
			return append([]byte{0x1b}, b...)
		}
	case ctrl && !shift && !alt:
		if b, ok := controlByte(base); ok {
			return b
		}
	case alt && !ctrl:
		return append([]byte{0x1b}, []byte(base)...)
	}

	return []byte(spec)
}

// peelModifiers strips at most one each of "C-", "S-", "A-" prefixes
// (in any order) from the front of spec, returning which were present
// and the remaining base string.
func peelModifiers(spec string) (ctrl, shift, alt bool, base string) {
	base = spec
	for {
		switch {
		case !ctrl && strings.HasPrefix(base, "C-"):
			ctrl = true
			base = base[2:]
		case !shift && strings.HasPrefix(base, "S-"):
			shift = true
			base = base[2:]
		case !alt && strings.HasPrefix(base, "A-"):
			alt = true
			base = base[2:]
		default:
			return ctrl, shift, alt, base
		}
	}
}

// caretForm handles the "^X" shorthand for control-letter keys.
func caretForm(spec string) ([]byte, bool) {
	runes := []rune(spec)
	if len(runes) != 2 || runes[0] != '^' {
		return nil, false
	}
	r := runes[1]
	if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
		return nil, false
	}
	return controlByte(string(r))
}

// controlByte computes the C0 control byte for a single control-eligible
// character: letters, '@', '[', '\\', ']', '^', '_', or '?' (DEL).
func controlByte(base string) ([]byte, bool) {
	runes := []rune(base)
	if len(runes) != 1 {
		return nil, false
	}
	r := runes[0]
	if r == '?' {
		return []byte{0x7f}, true
	}
	upper := unicode.ToUpper(r)
	if (upper >= 'A' && upper <= 'Z') || strings.ContainsRune("@[\\]^_", upper) {
		return []byte{byte(upper) & 0x1f}, true
	}
	return nil, false
}

// encodeNamed produces the byte sequence for a closed-set named key
// under the given modifier combination. altAlone means alt is held
// with no other modifier, which per spec always means "prefix the
// unmodified encoding with ESC" rather than switching to the CSI
// modified-key form.
func encodeNamed(name string, ctrl, shift, alt, appMode bool) ([]byte, bool) {
	n := 1
	if shift {
		n++
	}
	if alt {
		n += 2
	}
	if ctrl {
		n += 4
	}
	plain := !ctrl && !shift && !alt
	altAlone := alt && !ctrl && !shift

	if l, ok := arrowLetter[name]; ok {
		unmodified := func() []byte {
			if appMode {
				return []byte{0x1b, 'O', l}
			}
			return []byte{0x1b, '[', l}
		}
		switch {
		case plain:
			return unmodified(), true
		case altAlone:
			return append([]byte{0x1b}, unmodified()...), true
		default:
			return []byte(fmt.Sprintf("\x1b[1;%d%c", n, l)), true
		}
	}

	if l, ok := homeEndLetter[name]; ok {
		unmodified := []byte{0x1b, '[', l}
		switch {
		case plain:
			return unmodified, true
		case altAlone:
			return append([]byte{0x1b}, unmodified...), true
		default:
			return []byte(fmt.Sprintf("\x1b[1;%d%c", n, l)), true
		}
	}

	if l, ok := f1to4Letter[name]; ok {
		unmodified := []byte{0x1b, 'O', l}
		switch {
		case plain:
			return unmodified, true
		case altAlone:
			return append([]byte{0x1b}, unmodified...), true
		default:
			return []byte(fmt.Sprintf("\x1b[1;%d%c", n, l)), true
		}
	}

	if code, ok := tildeCode[name]; ok {
		switch {
		case plain:
			return []byte(fmt.Sprintf("\x1b[%d~", code)), true
		case altAlone:
			return append([]byte{0x1b}, []byte(fmt.Sprintf("\x1b[%d~", code))...), true
		default:
			return []byte(fmt.Sprintf("\x1b[%d;%d~", code, n)), true
		}
	}

	if b, ok := simpleByte[name]; ok {
		// Enter/Tab/Escape/Space are single C0 bytes with no CSI
		// modified-key form; ctrl and shift leave them unchanged, alt
		// alone still gets the usual ESC prefix.
		if altAlone {
			return []byte{0x1b, b}, true
		}
		return []byte{b}, true
	}

	return nil, false
}
