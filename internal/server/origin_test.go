package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeOrigin(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"http://example.com", "http://example.com", true},
		{"HTTP://Example.COM", "http://example.com", true},
		{"http://example.com:80", "http://example.com", true},
		{"https://example.com:443", "https://example.com", true},
		{"https://example.com:8443", "https://example.com:8443", true},
		{"http://localhost:3000", "http://localhost:3000", true},
		{"  http://example.com  ", "http://example.com", true},
		{"example.com", "", false},
		{"", "", false},
		{"://nope", "", false},
	}

	for _, tc := range cases {
		got, ok := normalizeOrigin(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}

func TestOriginPolicyEmptyListAllowsEverything(t *testing.T) {
	policy := newOriginPolicy(nil)

	assert.True(t, policy.Allowed("http://anywhere.example"))
	assert.True(t, policy.Allowed(""), "missing origin passes when no list is configured")
}

func TestOriginPolicyConfiguredList(t *testing.T) {
	policy := newOriginPolicy([]string{"https://app.example.com", "http://localhost:3000"})

	assert.True(t, policy.Allowed("https://app.example.com"))
	assert.True(t, policy.Allowed("https://APP.example.com:443"))
	assert.True(t, policy.Allowed("http://localhost:3000"))

	assert.False(t, policy.Allowed("https://evil.example.com"))
	assert.False(t, policy.Allowed("http://localhost:3001"))
	assert.False(t, policy.Allowed(""), "missing origin fails a configured list")
	assert.False(t, policy.Allowed("not a url"))
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"})

	assert.True(t, policy.Allowed("https://anything.example"))
	assert.True(t, policy.Allowed(""))
}

func TestOriginPolicySkipsInvalidEntries(t *testing.T) {
	policy := newOriginPolicy([]string{"", "   ", "no-scheme", "https://good.example"})

	assert.True(t, policy.Allowed("https://good.example"))
	assert.False(t, policy.Allowed("http://no-scheme"))
}
