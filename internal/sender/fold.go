package sender

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letters that do not decompose into a base letter plus a mark
var icelandicFold = strings.NewReplacer(
	"Á", "A", "á", "a",
	"Ð", "D", "ð", "d",
	"É", "E", "é", "e",
	"Í", "I", "í", "i",
	"Ó", "O", "ó", "o",
	"Ú", "U", "ú", "u",
	"Ý", "Y", "ý", "y",
	"Þ", "Th", "þ", "th",
	"Æ", "Ae", "æ", "ae",
	"Ö", "O", "ö", "o",
)

// letters outside Icelandic that have no decomposition either
var latinFold = strings.NewReplacer(
	"ß", "ss",
	"Ø", "O", "ø", "o",
	"Œ", "Oe", "œ", "oe",
	"Ł", "L", "ł", "l",
	"Đ", "D", "đ", "d",
	"ı", "i",
)

// FoldASCII maps the Icelandic letters to their ASCII spelling, the way the
// BML realizer did. It also goes further: other accented letters lose their
// marks, a few undecomposable Latin letters are spelled out, and any rune
// still outside ASCII becomes '?', so the result is always ASCII.
func FoldASCII(s string) string {
	s = latinFold.Replace(icelandicFold.Replace(s))
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			if r > unicode.MaxASCII {
				return '?'
			}
			return r
		}),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
