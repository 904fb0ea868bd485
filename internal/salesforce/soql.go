package salesforce

import "strings"

// QuoteLiteral escapes a value for interpolation into a SOQL string literal.
// The original portal interpolated raw input into SOQL; names and emails come
// straight from the portal, so escape quotes and backslashes.
func QuoteLiteral(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
	)
	return replacer.Replace(value)
}
