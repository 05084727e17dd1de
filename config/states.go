package config

import (
	"regexp"
	"strings"
)

// State represents a supported US state
type State struct {
	Abbr string `json:"abbr"`
	Name string `json:"name"`
}

// SupportedStates is the list of states the application serves
var SupportedStates = []State{
	{Abbr: "AL", Name: "Alabama"},
	{Abbr: "AK", Name: "Alaska"},
	{Abbr: "AZ", Name: "Arizona"},
	{Abbr: "AR", Name: "Arkansas"},
	{Abbr: "CA", Name: "California"},
	{Abbr: "CO", Name: "Colorado"},
	{Abbr: "CT", Name: "Connecticut"},
	{Abbr: "DE", Name: "Delaware"},
	{Abbr: "DC", Name: "District of Columbia"},
	{Abbr: "FL", Name: "Florida"},
	{Abbr: "GA", Name: "Georgia"},
	{Abbr: "HI", Name: "Hawaii"},
	{Abbr: "ID", Name: "Idaho"},
	{Abbr: "IL", Name: "Illinois"},
	{Abbr: "IN", Name: "Indiana"},
	{Abbr: "IA", Name: "Iowa"},
	{Abbr: "KS", Name: "Kansas"},
	{Abbr: "KY", Name: "Kentucky"},
	{Abbr: "LA", Name: "Louisiana"},
	{Abbr: "ME", Name: "Maine"},
	{Abbr: "MD", Name: "Maryland"},
	{Abbr: "MA", Name: "Massachusetts"},
	{Abbr: "MI", Name: "Michigan"},
	{Abbr: "MN", Name: "Minnesota"},
	{Abbr: "MS", Name: "Mississippi"},
	{Abbr: "MO", Name: "Missouri"},
	{Abbr: "MT", Name: "Montana"},
	{Abbr: "NE", Name: "Nebraska"},
	{Abbr: "NV", Name: "Nevada"},
	{Abbr: "NH", Name: "New Hampshire"},
	{Abbr: "NJ", Name: "New Jersey"},
	{Abbr: "NM", Name: "New Mexico"},
	{Abbr: "NY", Name: "New York"},
	{Abbr: "NC", Name: "North Carolina"},
	{Abbr: "ND", Name: "North Dakota"},
	{Abbr: "OH", Name: "Ohio"},
	{Abbr: "OK", Name: "Oklahoma"},
	{Abbr: "OR", Name: "Oregon"},
	{Abbr: "PA", Name: "Pennsylvania"},
	{Abbr: "RI", Name: "Rhode Island"},
	{Abbr: "SC", Name: "South Carolina"},
	{Abbr: "SD", Name: "South Dakota"},
	{Abbr: "TN", Name: "Tennessee"},
	{Abbr: "TX", Name: "Texas"},
	{Abbr: "UT", Name: "Utah"},
	{Abbr: "VT", Name: "Vermont"},
	{Abbr: "VA", Name: "Virginia"},
	{Abbr: "WA", Name: "Washington"},
	{Abbr: "WV", Name: "West Virginia"},
	{Abbr: "WI", Name: "Wisconsin"},
	{Abbr: "WY", Name: "Wyoming"},
}

// GetStateAbbrs returns the list of supported state abbreviations
func GetStateAbbrs() []string {
	abbrs := make([]string, len(SupportedStates))
	for i, state := range SupportedStates {
		abbrs[i] = state.Abbr
	}
	return abbrs
}

// GetStateByAbbr returns a state by its two-letter abbreviation
func GetStateByAbbr(abbr string) *State {
	upper := strings.ToUpper(abbr)
	for _, state := range SupportedStates {
		if state.Abbr == upper {
			return &state
		}
	}
	return nil
}

// IsValidState reports whether the abbreviation names a supported state
func IsValidState(abbr string) bool {
	return GetStateByAbbr(abbr) != nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeSlug converts a display name into a URL-safe slug
func NormalizeSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugPattern.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
