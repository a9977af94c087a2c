package exec

import "unicode/utf8"

// Decode controls how captured stdout/stderr bytes are turned into strings,
// mirroring curtin's decode="off"|"strict"|"replace"|"ignore" knob.
type Decode int

const (
	// DecodeReplace substitutes U+FFFD for invalid sequences. This is the
	// process runner's default.
	DecodeReplace Decode = iota
	// DecodeOff returns the raw bytes unconverted.
	DecodeOff
	// DecodeStrict returns an error if the bytes are not valid UTF-8.
	DecodeStrict
	// DecodeIgnore drops invalid bytes silently.
	DecodeIgnore
)

// decodeBytes applies the configured decode mode to a captured stream.
func decodeBytes(mode Decode, b []byte) (string, error) {
	switch mode {
	case DecodeOff:
		return string(b), nil
	case DecodeStrict:
		if !utf8.Valid(b) {
			return "", &InvalidUTF8Error{}
		}
		return string(b), nil
	case DecodeIgnore:
		return stripInvalid(b, false), nil
	case DecodeReplace:
		fallthrough
	default:
		return stripInvalid(b, true), nil
	}
}

// InvalidUTF8Error is returned by DecodeStrict when captured output is not
// valid UTF-8.
type InvalidUTF8Error struct{}

func (e *InvalidUTF8Error) Error() string { return "captured output is not valid UTF-8" }

func stripInvalid(b []byte, replace bool) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out := make([]rune, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			if replace {
				out = append(out, utf8.RuneError)
			}
			b = b[1:]
			continue
		}
		out = append(out, r)
		b = b[size:]
	}
	return string(out)
}
