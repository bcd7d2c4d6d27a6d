package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		base string
		fake bool
	}{
		{"gemini-2.5-flash", "gemini-2.5-flash", false},
		{"gemini-2.5-flash-假流", "gemini-2.5-flash", true},
		{"gemini-2.5-pro-真流", "gemini-2.5-pro", false},
		{"gemini-3-pro-high[1m]", "gemini-3-pro-high", false},
		{"claude-sonnet-4-5-[beta]", "claude-sonnet-4-5", false},
		{"gemini-3-flash-假流", "gemini-3-flash", true},
	}
	for _, tc := range cases {
		v := Normalize(tc.in)
		require.Equal(t, tc.base, v.BaseName, tc.in)
		require.Equal(t, tc.fake, v.FakeStream, tc.in)
	}
}

func TestRoutingPredicates(t *testing.T) {
	require.True(t, IsV3("gemini-3-pro-high"))
	require.True(t, IsV3("gemini-3-flash-假流"))
	require.False(t, IsV3("gemini-2.5-flash"))

	require.True(t, IsAntigravity("claude-sonnet-4-5"))
	require.True(t, IsAntigravity("claude-sonnet-4-5-thinking-假流"))
	require.False(t, IsAntigravity("gemini-3-pro-low"))
}

func TestIsValid(t *testing.T) {
	require.True(t, IsValid("gemini-2.5-pro"))
	require.True(t, IsValid("claude-sonnet-4-5-thinking"))
	require.True(t, IsValid("gemini-2.5-flash-假流"))
	require.False(t, IsValid("gpt-4o"))
}
