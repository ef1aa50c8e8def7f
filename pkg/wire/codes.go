package wire

import (
	"regexp"
	"strings"

	"github.com/sirosfoundation/go-customs/pkg/domain"
)

// Fallbacks for optional fields
const (
	// DefaultContainerType is used when the container type is missing or unknown
	DefaultContainerType = "42G1"
	// DefaultCountryCode is the numeric code for an unknown country
	DefaultCountryCode = "999"
	// DefaultConsignee replaces a missing consignee name (cargo "to order")
	DefaultConsignee = "A LA ORDEN"
	// DefaultCargoDescription replaces a missing description of goods
	DefaultCargoDescription = "CARGA GENERAL"
	// DefaultPackageType replaces a missing package type
	DefaultPackageType = "BULTOS"
	// RiverTransportMode is the transport mode code for inland waterways
	RiverTransportMode = "8"
)

var isoTypePattern = regexp.MustCompile(`^[0-9][0-9A-Z][A-Z][0-9A-Z]$`)

// legacyContainerTypes maps ISO 2688 and trade shorthand to ISO 6346 codes.
var legacyContainerTypes = map[string]string{
	"2200": "22G1",
	"2210": "22G1",
	"2232": "22R1",
	"2250": "22U1",
	"2260": "22P1",
	"2270": "22T1",
	"4200": "42G1",
	"4232": "42R1",
	"4250": "42U1",
	"4260": "42P1",
	"4500": "45G1",
	"4532": "45R1",
	"20DV": "22G1",
	"20GP": "22G1",
	"20RF": "22R1",
	"20OT": "22U1",
	"20FR": "22P1",
	"20TK": "22T1",
	"40DV": "42G1",
	"40GP": "42G1",
	"40HC": "45G1",
	"40HQ": "45G1",
	"40RF": "42R1",
	"40RH": "45R1",
	"40OT": "42U1",
	"40FR": "42P1",
}

// ContainerType returns the ISO 6346 size-type code for t. Valid codes pass
// through, legacy and shorthand codes are translated and anything else maps
// to DefaultContainerType.
func ContainerType(t string) string {
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(t), " ", ""))
	if code, ok := legacyContainerTypes[key]; ok {
		return code
	}
	if isoTypePattern.MatchString(key) {
		return key
	}
	return DefaultContainerType
}

// numericCountries holds ISO 3166-1 numeric codes for the countries seen on
// the waterway.
var numericCountries = map[string]string{
	"AR": "032",
	"BO": "068",
	"BR": "076",
	"CL": "152",
	"CN": "156",
	"DE": "276",
	"ES": "724",
	"NL": "528",
	"PA": "591",
	"PE": "604",
	"PY": "600",
	"US": "840",
	"UY": "858",
}

// CountryCode returns the numeric code for an ISO alpha-2 country. Numeric
// input passes through; unknown countries map to DefaultCountryCode.
func CountryCode(alpha2 string) string {
	key := strings.ToUpper(strings.TrimSpace(alpha2))
	if code, ok := numericCountries[key]; ok {
		return code
	}
	if len(key) == 3 && strings.Trim(key, "0123456789") == "" {
		return key
	}
	return DefaultCountryCode
}

// customsOffices maps UN/LOCODEs to customs office codes.
var customsOffices = map[string]string{
	"ARBUE": "001",
	"ARCMP": "008",
	"ARZAR": "082",
	"ARSLO": "062",
	"ARROS": "052",
	"ARSFN": "066",
	"ARPAR": "046",
	"ARCNQ": "019",
	"ARBAR": "092",
	"ARFMA": "085",
	"PYASU": "ASU",
	"PYVLL": "VLL",
	"PYCNP": "CNP",
	"PYPIL": "PIL",
	"PYENC": "ENC",
	"PYTVT": "TVT",
}

// CustomsOffice returns the customs office code for p. An explicit code on
// the port wins over the table; the empty string means no office is known.
func CustomsOffice(p *domain.Port) string {
	if p == nil {
		return ""
	}
	if c := strings.TrimSpace(p.CustomsCode); c != "" {
		return c
	}
	return customsOffices[strings.ToUpper(strings.TrimSpace(p.Code))]
}

// PartyName returns the party name or fallback when the party is absent or
// unnamed.
func PartyName(p *domain.Party, fallback string) string {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return fallback
	}
	return p.Name
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
