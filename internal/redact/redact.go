// Package redact strips credentials and other sensitive fragments from
// strings before they are logged. Provider and store errors routinely embed
// connection URLs, API keys and request bodies.
package redact

import "regexp"

// Placeholders written in place of redacted fragments.
const (
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	TokenPlaceholder      = "[REDACTED_JWT]"
	PathPlaceholder       = "[REDACTED_PATH]"
	StackPlaceholder      = "[STACK_TRACE_REDACTED]"
	EmailPlaceholder      = "[REDACTED_EMAIL]"
	SQLPlaceholder        = "[REDACTED_SQL]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order; earlier rules see the unmodified text.
var rules = []rule{
	// scheme://user:password@ for postgres, redis and friends. The scheme is kept.
	{regexp.MustCompile(`(?i)\b((?:postgres(?:ql)?|rediss?|mysql|mongodb(?:\+srv)?|amqps?)://)[^@/\s]+@`), "${1}" + CredentialPlaceholder + "@"},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), TokenPlaceholder},
	// Google API keys as used by Gemini.
	{regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`), KeyPlaceholder},
	{regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9_\-.~+/=]{8,}`), "${1}" + KeyPlaceholder},
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd)(\s*[=:]\s*['"]?)[^'"&\s]{3,}`), "${1}${2}" + CredentialPlaceholder},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|key)(\s*['"]?\s*[=:]\s*['"]?)[A-Za-z0-9_\-.~+/]{8,}`), "${1}${2}" + KeyPlaceholder},
	{regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`), StackPlaceholder},
	{regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE)\b[^;]*?\b(FROM|INTO|SET)\b[^;]*`), SQLPlaceholder},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), EmailPlaceholder},
	{regexp.MustCompile(`(?:^|\s)(/[\w.-]+){2,}`), " " + PathPlaceholder},
}

// String redacts sensitive fragments of s.
func String(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Error redacts err's message. A nil error yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
