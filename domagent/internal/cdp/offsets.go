package cdp

import "unicode/utf16"

// The DOM counts text offsets in UTF-16 code units; callers of this
// package count runes. These convert at the script boundary.

// UTF16Offset converts a rune offset in s to UTF-16 code units. Offsets
// past the end of s clamp to its length.
func UTF16Offset(s string, runes int) int {
	units, i := 0, 0
	for _, r := range s {
		if i >= runes {
			break
		}
		units += utf16.RuneLen(r)
		i++
	}
	return units
}

// RuneOffset converts a UTF-16 offset in s to runes. An offset that falls
// inside a surrogate pair rounds down to the start of the pair.
func RuneOffset(s string, units int) int {
	n, at := 0, 0
	for _, r := range s {
		w := utf16.RuneLen(r)
		if at+w > units {
			break
		}
		at += w
		n++
	}
	return n
}
