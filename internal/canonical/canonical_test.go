package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_CollapsesVariants(t *testing.T) {
	variants := []string{
		"https://www.example.com/product?utm_source=google&id=123",
		"http://example.com/product/?id=123&ref=test",
		"https://example.com/product?id=123",
		"  HTTPS://WWW.Example.com/product?ID=123#reviews ",
		"https://example.com/product?gclid=abc&ID=123&Source=x",
	}

	want := Result{URL: "https://example.com/product?id=123", Domain: "example.com"}
	for _, v := range variants {
		t.Run(v, func(t *testing.T) {
			assert.Equal(t, want, Canonicalize(v))
		})
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	inputs := []string{
		"https://www.example.com/product?utm_source=google&id=123",
		"https://shop.example.fr/volet%20roulant/?b=2&a=1&a=0",
		"https://example.fr/caf%C3%A9?q=cr%C3%A8me",
		"example.org",
		"https://example.com/a%2Fb/",
		"not a url at all",
		"",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			first := Canonicalize(in)
			second := Canonicalize(first.URL)
			assert.Equal(t, first, second)
		})
	}
}

func TestCanonicalize_SortsAndStripsParams(t *testing.T) {
	got := Canonicalize("https://example.com/list?z=1&utm_medium=cpc&a=2&empty=&mc_cid=9")
	assert.Equal(t, "https://example.com/list?a=2&z=1", got.URL)
}

func TestCanonicalize_EmptyPathBecomesSlash(t *testing.T) {
	assert.Equal(t, "https://example.com/", Canonicalize("http://www.example.com").URL)
	assert.Equal(t, "https://example.com/", Canonicalize("https://example.com///").URL)
}

func TestCanonicalize_DefaultsScheme(t *testing.T) {
	got := Canonicalize("www.example.com/p")
	assert.Equal(t, "https://example.com/p", got.URL)
	assert.Equal(t, "example.com", got.Domain)
}

func TestCanonicalize_MalformedFallsBack(t *testing.T) {
	got := Canonicalize("  HTTP://exa mple.com/x ")
	assert.Equal(t, "http://exa mple.com/x", got.URL)
	assert.Empty(t, got.Domain)

	assert.Equal(t, Result{}, Canonicalize("   "))
}

func TestCanonicalize_KeepsSubdomainsOtherThanWWW(t *testing.T) {
	got := Canonicalize("https://shop.example.com/x")
	assert.Equal(t, "shop.example.com", got.Domain)
}

func TestDomain(t *testing.T) {
	require.Equal(t, "amazon.fr", Domain("https://www.amazon.fr/dp/B0001?tag=x"))
	require.Empty(t, Domain("http://exa mple.com"))
}

func TestIsTrackingParam(t *testing.T) {
	assert.True(t, IsTrackingParam("UTM_Source"))
	assert.True(t, IsTrackingParam("fbclid"))
	assert.False(t, IsTrackingParam("id"))
}

func TestCanonicalize_LenientQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Result
	}{
		{
			name: "stray percent",
			in:   "https://www.shop.fr/p?q=100%&utm_source=google",
			want: Result{URL: "https://shop.fr/p?q=100%25", Domain: "shop.fr"},
		},
		{
			name: "semicolon separator",
			in:   "https://www.shop.fr/p?id=1;color=red&utm_source=x",
			want: Result{URL: "https://shop.fr/p?color=red&id=1", Domain: "shop.fr"},
		},
		{
			name: "bad escape in key",
			in:   "http://shop.fr/p?%zz=1",
			want: Result{URL: "https://shop.fr/p?%25zz=1", Domain: "shop.fr"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Canonicalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Canonicalize(got.URL))
		})
	}
}

func TestCanonicalize_LenientQueryCollapses(t *testing.T) {
	a := Canonicalize("https://www.shop.fr/p?q=100%&utm_source=google")
	b := Canonicalize("http://shop.fr/p/?q=100%25")
	assert.Equal(t, a, b)
}
