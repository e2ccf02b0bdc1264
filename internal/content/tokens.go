package content

import (
	"encoding/xml"
	"regexp"
	"strings"
)

// placeholder matches an escaped "$$" or a ${name} placeholder.
var placeholder = regexp.MustCompile(`\$\$|\$\{([^${}]+)\}`)

// Substitute replaces every ${name} placeholder that has a value in tokens.
// Placeholders without a value are left as written. Replacement values are
// inserted literally and never rescanned, so a value containing "$" or "\"
// cannot introduce further substitutions. "$$" is an escaped "$" and is
// kept for the final Expand pass.
func Substitute(text string, tokens map[string]string) string {
	if len(tokens) == 0 {
		return text
	}
	return replace(text, tokens, false)
}

// Expand is the last pass over a document: it substitutes like Substitute
// and collapses every "$$" to "$".
func Expand(text string, tokens map[string]string) string {
	return replace(text, tokens, true)
}

func replace(text string, tokens map[string]string, collapse bool) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		if m == "$$" {
			if collapse {
				return "$"
			}
			return m
		}
		if v, ok := tokens[m[2:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// EscapeDollar doubles every "$" in v so that a later Expand yields v
// unchanged instead of reading placeholders in it.
func EscapeDollar(v string) string {
	return strings.ReplaceAll(v, "$", "$$")
}

// EscapeXML escapes v for use in XML text or a quoted attribute value.
func EscapeXML(v string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(v))
	return sb.String()
}
