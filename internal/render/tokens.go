package render

import (
	"strings"

	"github.com/certforge/certforge/internal/model"
)

// defaultFieldText supplies a display template for well-known field keys
// whose text was left unset in the editor.
var defaultFieldText = map[string]string{
	"recipientName": "{name}",
	"jobTitle":      "{title}",
	"certId":        "Certificate ID: {id}",
	"verifyUrl":     "{url}",
}

// TokenTable builds the substitution table for one recipient: the built-in
// tokens first, then every roster column except name/email. Built-ins win;
// a roster column that collides with a built-in never overwrites it.
func TokenTable(rec model.Recipient, jobTitle, certID, verifyURL string) map[string]string {
	tokens := map[string]string{
		"name":  rec.Get("name"),
		"title": jobTitle,
		"id":    certID,
		"url":   displayURL(verifyURL),
	}
	for _, col := range rec.Columns {
		if col == "name" || col == "email" {
			continue
		}
		if _, exists := tokens[col]; exists {
			continue
		}
		tokens[col] = rec.Get(col)
	}
	return tokens
}

// displayURL strips the scheme so the printed link reads as a bare address.
func displayURL(u string) string {
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	return u
}

// Substitute replaces every {token} occurrence whose token is in the table.
// The scan is single-pass and non-recursive: replacement values are never
// rescanned, and unknown tokens stay verbatim in the output. An opening
// brace that does not start a known token is emitted as-is and the scan
// resumes right after it, so a real token inside a stray {...} span still
// substitutes.
func Substitute(template string, tokens map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))
	for {
		open := strings.IndexByte(template, '{')
		if open < 0 {
			b.WriteString(template)
			return b.String()
		}
		end := strings.IndexByte(template[open:], '}')
		if end < 0 {
			b.WriteString(template)
			return b.String()
		}
		end += open
		name := template[open+1 : end]
		if value, ok := tokens[name]; ok {
			b.WriteString(template[:open])
			b.WriteString(value)
			template = template[end+1:]
		} else {
			b.WriteString(template[:open+1])
			template = template[open+1:]
		}
	}
}

// FieldText produces the literal string to draw for a field: its text
// template (or the per-key default when unset) with all known tokens
// substituted. Fields with neither render as the empty string.
func FieldText(key string, f model.TextField, tokens map[string]string) string {
	tpl := f.Text
	if tpl == "" {
		tpl = defaultFieldText[key]
	}
	if tpl == "" {
		return ""
	}
	return Substitute(tpl, tokens)
}
