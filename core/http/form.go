package http

import (
	"net/url"
	"strings"
)

const formContentType = "application/x-www-form-urlencoded"

// parseURLEncoded decodes an application/x-www-form-urlencoded body.
// '+' becomes a space and %XX the byte it encodes; a later key wins
// over an earlier one. Undecodable pairs are kept verbatim.
func parseURLEncoded(body string) map[string]string {
	form := make(map[string]string)
	for body != "" {
		var pair string
		pair, body, _ = strings.Cut(body, "&")
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		form[unescape(key)] = unescape(value)
	}
	return form
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// isFormContent reports whether a Content-Type header names a urlencoded form
func isFormContent(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), formContentType)
}
