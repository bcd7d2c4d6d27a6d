package models

import "strings"

// Variant is the result of normalizing a client-supplied model name.
// Clients append routing hints to the model id; upstreams only accept
// the bare name, so the hints are stripped here and carried as flags.
type Variant struct {
	BaseName   string
	FakeStream bool
}

// Normalize strips client-hint suffixes from a model name.
//
//	gemini-2.5-flash-假流     => base gemini-2.5-flash, fakeStream on
//	gemini-2.5-flash-真流     => base gemini-2.5-flash, fakeStream off
//	gemini-3-pro-high[1m]     => base gemini-3-pro-high
//	claude-sonnet-4-5-[beta]  => base claude-sonnet-4-5
func Normalize(model string) Variant {
	v := Variant{BaseName: model}

	if strings.HasSuffix(v.BaseName, "-假流") {
		v.FakeStream = true
		v.BaseName = strings.TrimSuffix(v.BaseName, "-假流")
	} else if strings.HasSuffix(v.BaseName, "-真流") {
		v.BaseName = strings.TrimSuffix(v.BaseName, "-真流")
	}

	// Bracketed suffixes carry client-side context hints (e.g. "[1m]").
	if i := strings.Index(v.BaseName, "["); i > 0 && strings.HasSuffix(v.BaseName, "]") {
		v.BaseName = strings.TrimSuffix(v.BaseName[:i], "-")
	}

	return v
}

// IsV3 reports whether the model belongs to the Gemini-3 family, which
// is only served by credentials carrying the supports_v3 capability.
func IsV3(model string) bool {
	return strings.HasPrefix(Normalize(model).BaseName, "gemini-3")
}

// IsAntigravity reports whether the model routes to the Antigravity
// upstream instead of Cloud Code.
func IsAntigravity(model string) bool {
	return strings.HasPrefix(Normalize(model).BaseName, "claude")
}

// CloudCodeBases is the set of models served through the Cloud Code pools.
func CloudCodeBases() []string {
	return []string{
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
		"gemini-3-pro-high",
		"gemini-3-pro-low",
		"gemini-3-flash",
	}
}

// AntigravityBases is the set of models served through the Antigravity upstream.
func AntigravityBases() []string {
	return []string{
		"claude-sonnet-4-5",
		"claude-sonnet-4-5-thinking",
		"claude-opus-4-5-thinking",
	}
}

// Available returns every model id the proxy advertises, streaming-hint
// variants included.
func Available() []string {
	bases := append(CloudCodeBases(), AntigravityBases()...)
	out := make([]string, 0, len(bases)*2)
	for _, b := range bases {
		out = append(out, b)
		out = append(out, b+"-假流")
	}
	return out
}

// IsValid reports whether a client-supplied model name normalizes to a
// model the proxy serves.
func IsValid(model string) bool {
	base := Normalize(model).BaseName
	for _, b := range append(CloudCodeBases(), AntigravityBases()...) {
		if b == base {
			return true
		}
	}
	return false
}
