package protocol

import "unicode/utf8"

// utf8Validator checks UTF-8 text that arrives in arbitrary chunks. A code
// point split across chunk boundaries is carried over in tail.
type utf8Validator struct {
	tail []byte
}

func (v *utf8Validator) write(p []byte) bool {
	b := append(v.tail, p...)

	cut := len(b)
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax+1; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				cut = i
			}
			break
		}
	}

	if !utf8.Valid(b[:cut]) {
		v.tail = nil
		return false
	}
	v.tail = append([]byte(nil), b[cut:]...)
	return true
}

// finish reports whether the text ended on a code point boundary.
func (v *utf8Validator) finish() bool {
	ok := len(v.tail) == 0
	v.tail = nil
	return ok
}
