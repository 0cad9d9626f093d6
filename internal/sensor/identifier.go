package sensor

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// germanFolds are transliterated before the generic diacritic strip so that
// "Küche" becomes "Kueche" rather than "Kuche".
var germanFolds = strings.NewReplacer(
	"ä", "ae", "Ä", "Ae",
	"ö", "oe", "Ö", "Oe",
	"ü", "ue", "Ü", "Ue",
	"ß", "ss",
)

// topicUnsafe holds characters that would change the meaning of an MQTT topic segment.
var topicUnsafe = strings.NewReplacer("/", "-", "+", "-", "#", "-")

// SplitName splits an operator label of the form "Name@Location".
// The location is empty when no separator is present.
func SplitName(raw string) (name, location string) {
	name, location, _ = strings.Cut(raw, "@")
	return name, location
}

// CleanIdentifier folds a human label into an ASCII identifier usable as a
// topic path segment. Umlauts are expanded, other scripts are transliterated
// ("Кактус" becomes "Kaktus"), whitespace runs become a single dash and any
// rune still outside printable ASCII is removed.
// CleanIdentifier(CleanIdentifier(s)) == CleanIdentifier(s).
func CleanIdentifier(label string) string {
	clean := germanFolds.Replace(label)
	clean = unidecode.Unidecode(clean)

	// Marks the transliteration tables do not cover.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(stripMarks, clean); err == nil {
		clean = folded
	}

	clean = strings.Join(strings.Fields(clean), "-")
	clean = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, clean)

	return topicUnsafe.Replace(clean)
}
