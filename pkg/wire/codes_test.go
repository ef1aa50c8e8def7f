package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sirosfoundation/go-customs/pkg/domain"
)

func TestContainerType(t *testing.T) {
	tests := map[string]string{
		"22G1":  "22G1",
		"45r1":  "45R1",
		"40HC":  "45G1",
		"20 DV": "22G1",
		"2200":  "22G1",
		"":      DefaultContainerType,
		"BOX":   DefaultContainerType,
	}
	for in, want := range tests {
		assert.Equal(t, want, ContainerType(in), in)
	}
}

func TestCountryCode(t *testing.T) {
	assert.Equal(t, "600", CountryCode("py"))
	assert.Equal(t, "032", CountryCode("AR"))
	assert.Equal(t, "858", CountryCode("858"))
	assert.Equal(t, DefaultCountryCode, CountryCode("ZZ"))
	assert.Equal(t, DefaultCountryCode, CountryCode(""))
}

func TestCustomsOffice(t *testing.T) {
	assert.Equal(t, "052", CustomsOffice(&domain.Port{Code: "arros"}))
	assert.Equal(t, "099", CustomsOffice(&domain.Port{Code: "ARROS", CustomsCode: "099"}))
	assert.Empty(t, CustomsOffice(&domain.Port{Code: "XXNOP"}))
	assert.Empty(t, CustomsOffice(nil))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "ñañ", Truncate("ñañaña", 3))
	assert.Equal(t, "a b", Truncate("  a \t\n b  ", 10))
	assert.Equal(t, "ab", Truncate("a\x00\x01b", 10))
	assert.Equal(t, "ab", Truncate("ab cd", 3))
	assert.Equal(t, strings.Repeat("x", 15), Truncate(strings.Repeat("x", 40), 15))
	assert.Equal(t, "same", Truncate("same", 0))
}

func TestPartyName(t *testing.T) {
	assert.Equal(t, "fallback", PartyName(nil, "fallback"))
	assert.Equal(t, "fallback", PartyName(&domain.Party{Name: "  "}, "fallback"))
	assert.Equal(t, "ACME", PartyName(&domain.Party{Name: "ACME"}, "fallback"))
}
