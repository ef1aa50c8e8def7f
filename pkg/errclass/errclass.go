// Package errclass maps vendor and internal error codes to operator facing
// classifications.
//
// Classify is total: every code, documented or not, yields a title, message
// and suggested action. Codes are matched case-insensitively after trimming.
package errclass

import (
	"sort"
	"strings"
)

// Category groups errors by where they originate
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryCertificate    Category = "certificate"
	CategoryAuthentication Category = "authentication"
	CategoryRemote         Category = "remote"
	CategoryNetwork        Category = "network"
	CategoryParse          Category = "parse"
	CategoryUnknown        Category = "unknown"
)

// Severity ranks how urgently an operator has to act
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Internal codes raised by the engine itself rather than a remote service.
const (
	CodeValidation  = "VALIDATION"
	CodeCertificate = "CERTIFICATE"
	CodeSigning     = "SIGNING"
	CodeAuth        = "AUTH"
	CodeNetwork     = "NETWORK"
	CodeTimeout     = "TIMEOUT"
	CodeParse       = "PARSE"
	CodeTooLarge    = "RESPONSE_TOO_LARGE"
	CodeAmbiguous   = "AMBIGUOUS"
	CodeFault       = "REMOTE_FAULT"
	CodeCancelled   = "CANCELLED"
)

// Classification is the canned description of an error code
type Classification struct {
	Code            string
	Title           string
	Message         string
	SuggestedAction string
	Category        Category
	Severity        Severity
	Blocking        bool
	Retryable       bool
}

// Undocumented is returned for every code missing from the table.
var Undocumented = Classification{
	Title:           "Undocumented remote error",
	Message:         "The customs service returned an error code that is not documented.",
	SuggestedAction: "Contact an administrator and attach the raw response of the transaction.",
	Category:        CategoryUnknown,
	Severity:        SeverityHigh,
	Blocking:        true,
}

// Classify returns the classification for code. Unknown codes get the
// Undocumented classification with Code set to the input.
func Classify(code string) Classification {
	key := normalize(code)
	if c, ok := table[key]; ok {
		c.Code = key
		return c
	}
	c := Undocumented
	c.Code = strings.TrimSpace(code)
	return c
}

// Known reports whether code has a documented classification
func Known(code string) bool {
	_, ok := table[normalize(code)]
	return ok
}

// Codes returns every documented code in sorted order
func Codes() []string {
	codes := make([]string, 0, len(table))
	for code := range table {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
