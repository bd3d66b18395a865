package repositorycache

import (
	"reflect"
	"strings"
	"unicode"
)

// namespaceFor derives a cache namespace from the record type, e.g.
// *players.HomeRecord becomes "home_record".
func namespaceFor[D any]() string {
	t := reflect.TypeOf((*D)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	if ns := toSnake(name); ns != "" {
		return ns
	}
	return "records"
}

// toSnake converts s to snake_case. Anything that is not a letter or digit,
// such as the brackets of an instantiated generic type, becomes a single
// underscore, which keeps namespaces safe to use as key prefixes.
func toSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	sep := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
			b.WriteByte('_')
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					sep()
				}
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLower(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			sep()
		}
	}

	return strings.Trim(b.String(), "_")
}
