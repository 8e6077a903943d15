package control

import "unicode/utf8"

// ConvToServer renders a local string for the wire, preferring UTF-8 when
// forceUTF8 (or no custom encoding is configured), otherwise falling back to
// a single-byte custom encoding table. A nil
// table means "use UTF-8 unconditionally".
func ConvToServer(s string, forceUTF8 bool, table *Latin1Table) []byte {
	if forceUTF8 || table == nil {
		return []byte(s)
	}
	return table.Encode(s)
}

// ConvToLocal decodes bytes coming off the wire, preferring UTF-8, falling
// back to table, and finally to Latin-1 so that no data is ever lost
// (Latin-1 maps every byte to a rune, so it can never fail to decode).
func ConvToLocal(b []byte, table *Latin1Table) string {
	if utf8.Valid(b) {
		return string(b)
	}
	if table != nil {
		return table.Decode(b)
	}
	return Latin1Decode(b)
}

// Latin1Table is a pluggable single-byte custom encoding (Site.
// Encoding): a 256-entry table mapping bytes to runes, standing in for
// whatever legacy codepage a server is configured to speak. The zero value
// behaves like plain Latin-1.
type Latin1Table struct {
	ToRune [256]rune
	inited bool
}

func (t *Latin1Table) ensure() {
	if t.inited {
		return
	}
	for i := range t.ToRune {
		if t.ToRune[i] == 0 && i != 0 {
			t.ToRune[i] = rune(i)
		}
	}
	t.inited = true
}

// Decode renders b using the table, falling back to identity mapping for
// unset entries.
func (t *Latin1Table) Decode(b []byte) string {
	t.ensure()
	out := make([]rune, len(b))
	for i, c := range b {
		out[i] = t.ToRune[c]
	}
	return string(out)
}

// Encode renders s back into single bytes using the table's inverse. Runes
// with no entry fall back to '?' (0x3F), matching the "no data is lost"
// decode guarantee as best an encode step can: an unmappable character is
// never silently dropped.
func (t *Latin1Table) Encode(s string) []byte {
	t.ensure()
	inverse := make(map[rune]byte, 256)
	for i, r := range t.ToRune {
		if _, ok := inverse[r]; !ok {
			inverse[r] = byte(i)
		}
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if b, ok := inverse[r]; ok {
			out = append(out, b)
		} else {
			out = append(out, '?')
		}
	}
	return out
}

// Latin1Decode decodes b as ISO-8859-1, which maps every byte to the
// identically-numbered Unicode code point and therefore never fails, the
// guaranteed-lossless final fallback.
func Latin1Decode(b []byte) string {
	out := make([]rune, len(b))
	for i, c := range b {
		out[i] = rune(c)
	}
	return string(out)
}
