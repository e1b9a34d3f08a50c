package redact

import "strings"

// MaskEmail keeps the first and last character of every label so log lines
// stay correlatable without printing the account.
func MaskEmail(s string) string {
	s = strings.TrimSpace(s)
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return mask(s)
	}
	labels := strings.Split(s[at+1:], ".")
	for i, l := range labels {
		labels[i] = mask(l)
	}
	return mask(s[:at]) + "@" + strings.Join(labels, ".")
}

func mask(part string) string {
	switch {
	case part == "":
		return ""
	case len(part) <= 2:
		return strings.Repeat("*", len(part))
	}
	return part[:1] + strings.Repeat("*", len(part)-2) + part[len(part)-1:]
}
