package utils

import "regexp"

var dsnPassword = regexp.MustCompile(`(:)([^:@/]+)(@)`)

// MaskDSN hides the password portion of a connection string.
func MaskDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, ":***@")
}

// MaskSecret keeps the last four characters of a credential for log correlation.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
