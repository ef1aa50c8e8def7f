// Package response interprets replies from the customs web services.
//
// Replies are inconsistently shaped across schema revisions, so the
// Interpreter runs an ordered list of strategies and stops at the first one
// that finds something:
//
//  1. [FaultStrategy] detects a SOAP fault or vendor error list
//  2. [KnownTagsStrategy] reads identifiers from documented element names
//  3. [TokenScanStrategy] scans the text for identifier-like tokens
//  4. [TreeScanStrategy] walks every text node of the document
//
// Results from strategies 3 and 4 are flagged Ambiguous: they need review
// before being trusted. Both scans are narrower than "any token of the right
// length": a candidate must contain at least one digit, and the tree scan
// only accepts upper case letters, digits and dashes. Status words and
// message text never qualify.
//
// Independently of the chain, every parsed reply reports its Reply element
// (the first child of the SOAP Body, or the document root) and whether it
// carries one of [DefaultAckTags]. Operations that return no identifier use
// these to tell an acknowledgement from an unrelated document such as a
// maintenance page.
package response

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/beevik/etree"
)

// ErrParse is reported when a body is empty or not XML
var ErrParse = errors.New("empty or invalid response")

// Fault is a remote error reply
type Fault struct {
	Code    string
	Message string
}

// Result is the outcome of interpreting a reply. Exactly one of Fault or the
// success fields is meaningful.
type Result struct {
	Fault       *Fault
	Identifiers []string
	Reference   string
	Strategy    string
	Ambiguous   bool

	// Reply is the local name of the reply element
	Reply string
	// Acknowledged is set when the reply carries a known result element
	Acknowledged bool
}

// IsFault reports whether the reply was a fault
func (r Result) IsFault() bool {
	return r.Fault != nil
}

// Found reports whether a success reply carried any identifier
func (r Result) Found() bool {
	return r.Fault == nil && (len(r.Identifiers) > 0 || r.Reference != "")
}

// Body is a reply handed to strategies. Doc is nil when the raw bytes are
// not well formed XML.
type Body struct {
	Raw []byte
	Doc *etree.Document
}

// Strategy is one step of the interpretation chain
type Strategy interface {
	Name() string
	Try(b *Body) (Result, bool)
}

// DefaultStrategies returns the standard chain
func DefaultStrategies() []Strategy {
	return []Strategy{
		FaultStrategy{},
		KnownTagsStrategy{Tracks: DefaultTrackTags, References: DefaultReferenceTags},
		TokenScanStrategy{},
		TreeScanStrategy{},
	}
}

// Interpreter runs strategies in order
type Interpreter struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewInterpreter creates an Interpreter. A nil or empty strategy list uses
// DefaultStrategies and a nil logger uses slog.Default.
func NewInterpreter(logger *slog.Logger, strategies ...Strategy) *Interpreter {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{strategies: strategies, logger: logger}
}

// Interpret classifies raw. Empty bodies, and bodies that are neither XML
// nor carry a fault marker, are reported as a Fault. A parseable body none
// of the strategies understands yields a Result with no identifiers and an
// empty Strategy.
func (i *Interpreter) Interpret(raw []byte) Result {
	if len(strings.TrimSpace(string(raw))) == 0 {
		i.logger.Warn("empty response body")
		return Result{Fault: &Fault{Message: ErrParse.Error()}, Strategy: "empty"}
	}

	body := &Body{Raw: raw}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err == nil && doc.Root() != nil {
		body.Doc = doc
	}
	reply, acked := envelopeOf(body.Doc)

	for _, s := range i.strategies {
		res, ok := s.Try(body)
		if !ok {
			continue
		}
		res.Strategy = s.Name()
		res.Identifiers = Validate(res.Identifiers)
		if res.Reference != "" && !identifierPattern.MatchString(res.Reference) {
			res.Reference = ""
		}
		if !res.IsFault() && !res.Found() {
			continue
		}
		if !res.IsFault() {
			res.Reply, res.Acknowledged = reply, acked
		}
		i.logger.Debug("response interpreted",
			slog.String("strategy", s.Name()),
			slog.Bool("fault", res.IsFault()),
			slog.Int("identifiers", len(res.Identifiers)),
			slog.Bool("ambiguous", res.Ambiguous))
		return res
	}

	if body.Doc == nil {
		i.logger.Warn("unparsable response body", slog.Int("bytes", len(raw)))
		return Result{Fault: &Fault{Message: ErrParse.Error()}, Strategy: "unparsable"}
	}
	return Result{Reply: reply, Acknowledged: acked}
}

// envelopeOf returns the reply element name of doc and whether a leaf named
// after one of DefaultAckTags is present
func envelopeOf(doc *etree.Document) (string, bool) {
	if doc == nil {
		return "", false
	}
	reply := doc.Root()
	if body := first(reply, "Body"); body != nil {
		if children := body.ChildElements(); len(children) > 0 {
			reply = children[0]
		}
	}
	for _, tag := range DefaultAckTags {
		if len(leafValues(reply, tag)) > 0 {
			return reply.Tag, true
		}
	}
	return reply.Tag, false
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,39}$`)

// Validate trims, deduplicates and drops values that are not identifier
// shaped, keeping first-seen order.
func Validate(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if !identifierPattern.MatchString(v) {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
