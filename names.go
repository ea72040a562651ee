package fatvol

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"
)

// Codepage decodes an 8-bit OEM-encoded short name into a rune, mirroring
// the teacher's UnicodeFromAscii helper but parameterized over the actual
// OEM codepage rather than assuming plain ASCII.
type Codepage interface {
	Decode(b byte) rune
}

type charmapCodepage struct {
	cm *charmap.Charmap
}

func (c charmapCodepage) Decode(b byte) rune {
	r := c.cm.DecodeByte(b)
	return r
}

// DefaultCodepage is CP437, the historical default OEM codepage for FAT
// media (see DESIGN.md Open Question decisions for why this, rather than
// spec's literal "ASCII", is the default).
var DefaultCodepage Codepage = charmapCodepage{cm: charmap.CodePage437}

// AsciiCodepage restores a strict 7-bit ASCII decode (bytes >= 0x80 map to
// U+FFFD), for callers that want the spec's literal suggested default.
var AsciiCodepage Codepage = asciiCodepage{}

type asciiCodepage struct{}

func (asciiCodepage) Decode(b byte) rune {
	if b < 0x80 {
		return rune(b)
	}

	return '�'
}

// decodeShortNameField decodes an 11-byte 8.3 short-name field (8 bytes
// name + 3 bytes extension, space-padded) into a "NAME.EXT" string (or
// "NAME" with no extension), applying cp to each byte.
func decodeShortNameField(field [11]byte, cp Codepage) string {
	name := decodeOEMBytes(field[0:8], cp)
	ext := decodeOEMBytes(field[8:11], cp)

	if ext == "" {
		return name
	}

	return name + "." + ext
}

func decodeOEMBytes(b []byte, cp Codepage) string {
	trimmed := strings.TrimRight(string(b), " ")

	var sb strings.Builder
	for i := 0; i < len(trimmed); i++ {
		sb.WriteRune(cp.Decode(trimmed[i]))
	}

	return sb.String()
}

// decodeUTF16LE reassembles a UTF-16LE code-unit sequence (as carried
// across VFAT LFN fragments or exFAT FileName entries) into a UTF-8
// string, following utility.go's UnicodeFromAscii approach of feeding
// unicode/utf16.Decode a []uint16 built from consecutive little-endian
// byte pairs.
func decodeUTF16LE(data []byte) string {
	units := make([]uint16, 0, len(data)/2)

	for i := 0; i+1 < len(data); i += 2 {
		units = append(units, uint16(data[i])|uint16(data[i+1])<<8)
	}

	runes := utf16.Decode(units)

	return string(runes)
}

// encodeUTF16LE is the inverse of decodeUTF16LE, used by tests to build
// synthetic LFN/FileName entries.
func encodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))

	buf := make([]byte, len(units)*2)
	for i, u := range units {
		buf[i*2] = byte(u)
		buf[i*2+1] = byte(u >> 8)
	}

	return buf
}

// foldCase returns a case-insensitive comparison key for name, used by the
// Path Resolver. FAT/exFAT filename comparisons are case-insensitive but
// case-preserving; this mirrors the exFAT up-case table semantics for the
// common case by upper-casing with strings.ToUpper (ASCII and Unicode
// upper-case mappings).
func foldCase(name string) string {
	return strings.ToUpper(name)
}

// EscapeControlChars renders C0/C1 control characters (U+0000-U+001F,
// U+007F-U+009F) as \xHH escapes, the way this package's Dump()/String()
// methods render otherwise-unprintable name bytes, mirroring the raw-byte
// escaping the teacher's various Dump() methods already perform.
func EscapeControlChars(s string) string {
	var sb strings.Builder

	for _, r := range s {
		if (r >= 0x00 && r <= 0x1F) || (r >= 0x7F && r <= 0x9F) {
			sb.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			sb.WriteRune(r)
		}
	}

	return sb.String()
}
