// Package country holds the fixed reference list of countries a participant
// may declare when joining.
package country

import "strings"

// Country is one entry of the reference list.
type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Flag string `json:"flag"`
}

var countries = []Country{
	{Code: "US", Name: "United States", Flag: "🇺🇸"},
	{Code: "GB", Name: "United Kingdom", Flag: "🇬🇧"},
	{Code: "CA", Name: "Canada", Flag: "🇨🇦"},
	{Code: "AU", Name: "Australia", Flag: "🇦🇺"},
	{Code: "DE", Name: "Germany", Flag: "🇩🇪"},
	{Code: "FR", Name: "France", Flag: "🇫🇷"},
	{Code: "JP", Name: "Japan", Flag: "🇯🇵"},
	{Code: "IN", Name: "India", Flag: "🇮🇳"},
	{Code: "BR", Name: "Brazil", Flag: "🇧🇷"},
	{Code: "PK", Name: "Pakistan", Flag: "🇵🇰"},
	{Code: "NG", Name: "Nigeria", Flag: "🇳🇬"},
	{Code: "RU", Name: "Russia", Flag: "🇷🇺"},
	{Code: "MX", Name: "Mexico", Flag: "🇲🇽"},
	{Code: "ID", Name: "Indonesia", Flag: "🇮🇩"},
	{Code: "TR", Name: "Turkey", Flag: "🇹🇷"},
}

var byCode = func() map[string]Country {
	m := make(map[string]Country, len(countries))
	for _, c := range countries {
		m[c.Code] = c
	}
	return m
}()

// List returns a copy of the reference list in display order.
func List() []Country {
	out := make([]Country, len(countries))
	copy(out, countries)
	return out
}

// Lookup finds a country by its two-letter code. Codes are matched
// case-insensitively.
func Lookup(code string) (Country, bool) {
	c, ok := byCode[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}
