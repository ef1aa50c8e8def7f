package response

import (
	"html"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/beevik/etree"
)

// Element names that have carried identifiers across schema revisions.
var (
	DefaultTrackTags = []string{
		"Track",
		"TrackId",
		"IdTrack",
		"IdentificadorTrack",
		"NroTrack",
	}
	DefaultReferenceTags = []string{
		"IdMicDta",
		"IdTitulo",
		"IdentificadorTitulo",
		"NroManifiesto",
		"NroReferencia",
		"Referencia",
		"NroRegistro",
		"Identificador",
	}
	// DefaultAckTags name the result elements of acknowledgement replies
	DefaultAckTags = []string{
		"Resultado",
		"CodigoResultado",
		"Estado",
		"EstadoMensaje",
		"Result",
	}
)

// FaultStrategy detects SOAP 1.1 and 1.2 faults and vendor error lists.
// When the body is not XML it falls back to a textual faultstring search.
type FaultStrategy struct{}

func (FaultStrategy) Name() string { return "fault" }

var (
	faultStringPattern = regexp.MustCompile(`(?s)<(?:[\w-]+:)?faultstring[^>]*>(.*?)</(?:[\w-]+:)?faultstring>`)
	faultCodePattern   = regexp.MustCompile(`(?s)<(?:[\w-]+:)?faultcode[^>]*>(.*?)</(?:[\w-]+:)?faultcode>`)
)

func (FaultStrategy) Try(b *Body) (Result, bool) {
	if b.Doc == nil {
		m := faultStringPattern.FindSubmatch(b.Raw)
		if m == nil {
			return Result{}, false
		}
		f := &Fault{Message: strings.TrimSpace(html.UnescapeString(string(m[1])))}
		if c := faultCodePattern.FindSubmatch(b.Raw); c != nil {
			f.Code = localName(strings.TrimSpace(string(c[1])))
		}
		return Result{Fault: f}, true
	}

	root := b.Doc.Root()
	if fault := first(root, "Fault"); fault != nil {
		return Result{Fault: soapFault(fault)}, true
	}
	if f := vendorErrors(root); f != nil {
		return Result{Fault: f}, true
	}
	return Result{}, false
}

func soapFault(fault *etree.Element) *Fault {
	f := &Fault{}
	if s := first(fault, "faultstring"); s != nil {
		f.Message = strings.TrimSpace(s.Text())
	}
	if c := first(fault, "faultcode"); c != nil {
		f.Code = localName(strings.TrimSpace(c.Text()))
	}
	// SOAP 1.2: Reason/Text and Code/Value, with Subcode carrying the detail
	if f.Message == "" {
		if reason := first(fault, "Reason"); reason != nil {
			if text := first(reason, "Text"); text != nil {
				f.Message = strings.TrimSpace(text.Text())
			}
		}
	}
	if f.Code == "" {
		if code := first(fault, "Code"); code != nil {
			values := all(code, "Value")
			if len(values) > 0 {
				f.Code = localName(strings.TrimSpace(values[len(values)-1].Text()))
			}
		}
	}
	if detail := first(fault, "detail", "Detail"); detail != nil {
		if code := leafText(detail, "Codigo", "CodigoError", "ErrorCode"); code != "" {
			f.Code = code
		}
		if f.Message == "" {
			f.Message = leafText(detail, "Descripcion", "Mensaje", "Message")
		}
	}
	if f.Message == "" {
		f.Message = "remote fault"
	}
	return f
}

// IsSOAPFaultCode reports whether code is one of the generic SOAP 1.1 or
// 1.2 fault codes, possibly dotted (Server.Userexception), rather than a
// vendor code.
func IsSOAPFaultCode(code string) bool {
	code = localName(code)
	if i := strings.Index(code, "."); i >= 0 {
		code = code[:i]
	}
	switch strings.ToLower(code) {
	case "server", "client", "sender", "receiver", "versionmismatch", "mustunderstand", "dataencodingunknown":
		return true
	}
	return false
}

// vendorErrors reads <Errores><Error><Codigo/><Descripcion/></Error></Errores>
// style lists. The first code wins; descriptions are joined.
func vendorErrors(root *etree.Element) *Fault {
	var f *Fault
	var messages []string
	for _, list := range all(root, "Errores", "Errors", "ListaErrores") {
		for _, e := range list.ChildElements() {
			code := leafText(e, "Codigo", "Code", "CodigoError")
			msg := leafText(e, "Descripcion", "Mensaje", "Message", "Description")
			if code == "" && msg == "" {
				continue
			}
			if f == nil {
				f = &Fault{Code: code}
			}
			if msg != "" {
				messages = append(messages, msg)
			}
		}
	}
	if f == nil {
		return nil
	}
	f.Message = strings.Join(messages, "; ")
	if f.Message == "" {
		f.Message = "error " + f.Code
	}
	return f
}

// KnownTagsStrategy reads identifiers from documented element names. Tags
// are tried in order and the first one present wins.
type KnownTagsStrategy struct {
	Tracks     []string
	References []string
}

func (KnownTagsStrategy) Name() string { return "known-tags" }

func (s KnownTagsStrategy) Try(b *Body) (Result, bool) {
	if b.Doc == nil {
		return Result{}, false
	}
	root := b.Doc.Root()

	var res Result
	for _, tag := range s.Tracks {
		if values := leafValues(root, tag); len(values) > 0 {
			res.Identifiers = values
			break
		}
	}
	for _, tag := range s.References {
		if values := leafValues(root, tag); len(values) > 0 {
			res.Reference = values[0]
			if len(res.Identifiers) == 0 {
				res.Identifiers = values
			}
			break
		}
	}
	return res, len(res.Identifiers) > 0 || res.Reference != ""
}

// TokenScanStrategy scans the character data of the document for
// alphanumeric tokens of 8 to 20 characters containing at least one digit,
// skipping dates and boolean literals.
type TokenScanStrategy struct{}

func (TokenScanStrategy) Name() string { return "token-scan" }

var tokenPattern = regexp.MustCompile(`\b[A-Za-z0-9]{8,20}\b`)

func (TokenScanStrategy) Try(b *Body) (Result, bool) {
	if b.Doc == nil {
		return Result{}, false
	}
	var texts []string
	walk(b.Doc.Root(), func(e *etree.Element) {
		if t := strings.TrimSpace(e.Text()); t != "" {
			texts = append(texts, t)
		}
	})

	var found []string
	for _, tok := range tokenPattern.FindAllString(strings.Join(texts, " "), -1) {
		if !hasDigit(tok) || isDateLike(tok) || isBooleanLike(tok) {
			continue
		}
		found = append(found, tok)
	}
	return Result{Identifiers: found, Ambiguous: true}, len(found) > 0
}

// TreeScanStrategy collects leaf text nodes of 5 to 25 characters made of
// upper case letters, digits and dashes, excluding dates.
type TreeScanStrategy struct{}

func (TreeScanStrategy) Name() string { return "tree-scan" }

var treeValuePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{4,24}$`)

func (TreeScanStrategy) Try(b *Body) (Result, bool) {
	if b.Doc == nil {
		return Result{}, false
	}
	var found []string
	walk(b.Doc.Root(), func(e *etree.Element) {
		if len(e.ChildElements()) > 0 {
			return
		}
		v := strings.TrimSpace(e.Text())
		if !treeValuePattern.MatchString(v) || !hasDigit(v) || isDateLike(v) {
			return
		}
		found = append(found, v)
	})
	return Result{Identifiers: found, Ambiguous: true}, len(found) > 0
}

var (
	isoDatePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	slashedDatePattern = regexp.MustCompile(`^\d{2}[/-]\d{2}[/-]\d{4}$`)
	digitsPattern      = regexp.MustCompile(`^\d+$`)
)

func isDateLike(s string) bool {
	if isoDatePattern.MatchString(s) || slashedDatePattern.MatchString(s) {
		return true
	}
	if !digitsPattern.MatchString(s) {
		return false
	}
	switch len(s) {
	case 8:
		for _, layout := range []string{"20060102", "02012006"} {
			if _, err := time.Parse(layout, s); err == nil {
				return true
			}
		}
	case 12:
		_, err := time.Parse("200601021504", s)
		return err == nil
	case 14:
		_, err := time.Parse("20060102150405", s)
		return err == nil
	}
	return false
}

func isBooleanLike(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "verdadero", "falso", "si", "no", "yes", "s", "n", "0", "1":
		return true
	}
	return false
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func localName(s string) string {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return s[i+1:]
	}
	return s
}

func walk(e *etree.Element, fn func(*etree.Element)) {
	if e == nil {
		return
	}
	fn(e)
	for _, c := range e.ChildElements() {
		walk(c, fn)
	}
}

func matches(e *etree.Element, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(e.Tag, n) {
			return true
		}
	}
	return false
}

// first returns the first descendant (or e itself) whose local name matches
func first(e *etree.Element, names ...string) *etree.Element {
	var found *etree.Element
	walk(e, func(c *etree.Element) {
		if found == nil && matches(c, names) {
			found = c
		}
	})
	return found
}

func all(e *etree.Element, names ...string) []*etree.Element {
	var found []*etree.Element
	walk(e, func(c *etree.Element) {
		if matches(c, names) {
			found = append(found, c)
		}
	})
	return found
}

// leafValues returns the trimmed text of every leaf element named tag
func leafValues(root *etree.Element, tag string) []string {
	var values []string
	for _, e := range all(root, tag) {
		if len(e.ChildElements()) > 0 {
			continue
		}
		if v := strings.TrimSpace(e.Text()); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func leafText(e *etree.Element, names ...string) string {
	for _, n := range names {
		if values := leafValues(e, n); len(values) > 0 {
			return values[0]
		}
	}
	return ""
}
