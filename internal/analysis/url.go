package analysis

import "regexp"

// urlPattern accepts an optional http(s) scheme, a dotted domain or IPv4
// address, and an optional port, path, query, and fragment.
var urlPattern = regexp.MustCompile(`(?i)^(https?://)?` +
	`((([a-z\d]([a-z\d-]*[a-z\d])*)\.)+[a-z]{2,}|((\d{1,3}\.){3}\d{1,3}))` +
	`(:\d+)?(/[-a-z\d%_.~+]*)*` +
	`(\?[;&a-z\d%_.~+=-]*)?` +
	`(#[-a-z\d_]*)?$`)

// IsURL reports whether text is a bare link rather than prose.
func IsURL(text string) bool {
	return urlPattern.MatchString(text)
}
