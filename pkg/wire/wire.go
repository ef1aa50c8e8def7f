// Package wire builds the SOAP request documents sent to the customs
// authorities.
//
// Each operation has exactly one body builder. A Builder validates the
// snapshot before serializing anything, applies the code tables and the
// positive floor policy, truncates every text field to its schema length and
// produces a byte-stable document: identical inputs give identical bytes
// except for the timestamp embedded in the security header.
package wire

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-customs/pkg/domain"
)

// ErrUnknownOperation is returned when no builder is registered for an operation
var ErrUnknownOperation = errors.New("unknown operation")

// Authority identifies a customs administration
type Authority string

const (
	// AuthorityAR is the manifest service of the Argentine administration
	AuthorityAR Authority = "ar"
	// AuthorityPY is the fluvial message service of the Paraguayan administration
	AuthorityPY Authority = "py"
)

// Operation is a remote operation name as it appears on the wire
type Operation string

// Produces describes what a successful reply to an operation carries
type Produces int

const (
	// ProducesAck means the reply only acknowledges the request
	ProducesAck Produces = iota
	// ProducesTracks means the reply carries track identifiers
	ProducesTracks
	// ProducesReference means the reply carries a reference for later calls
	ProducesReference
)

// AuthContext is the session credential plus the identity of the company
// acting on it.
type AuthContext struct {
	Token     string
	Sign      string
	TaxID     string
	AgentType string
	Role      string
}

// Input carries the snapshot and the per-operation arguments.
type Input struct {
	Voyage     *domain.Voyage
	Shipment   *domain.Shipment
	Tracks     []string
	Reference  string
	Reason     string
	Position   *domain.Position
	Vessel     *domain.Vessel
	Attachment *domain.Attachment
}

// Coercion records a value replaced by the positive floor policy
type Coercion struct {
	Field string
	From  string
	To    string
}

// Message is a serialized request ready for transport
type Message struct {
	Operation   Operation
	Authority   Authority
	SOAPVersion SOAPVersion
	Action      string
	Body        []byte
	Digest      string
	Coercions   []Coercion
}

// ContentType returns the HTTP content type for the envelope version. SOAP
// 1.2 carries the action as a media type parameter.
func (m *Message) ContentType() string {
	if m.SOAPVersion == SOAP12 {
		return fmt.Sprintf(`application/soap+xml; charset=utf-8; action="%s"`, m.Action)
	}
	return "text/xml; charset=utf-8"
}

// SOAPActionHeader returns the SOAPAction header value, empty for SOAP 1.2
func (m *Message) SOAPActionHeader() string {
	if m.SOAPVersion == SOAP12 {
		return ""
	}
	return `"` + m.Action + `"`
}

// operation describes how one remote operation is validated and serialized
type operation struct {
	authority     Authority
	produces      Produces
	positiveFloor bool
	validate      func(in Input) []string
	body          func(w *writer, parent *etree.Element, in Input)

	// needs names the value an earlier step of the same submission must
	// have produced: ProducesTracks or ProducesReference
	needs Produces
}

var operations = map[Operation]operation{}

func register(op Operation, spec operation) {
	if _, exists := operations[op]; exists {
		panic("wire: operation registered twice: " + string(op))
	}
	operations[op] = spec
}

func (spec operation) dependencies(in Input) []string {
	var p problems
	switch spec.needs {
	case ProducesTracks:
		if len(in.Tracks) == 0 {
			p.addf("at least one track identifier is required")
		}
	case ProducesReference:
		p.reference(in.Reference, "reference")
	}
	return p
}

// Validate checks in against op without serializing. The auth context is
// not checked.
func Validate(op Operation, in Input) error {
	return validate(op, in, true)
}

// ValidateSnapshot is Validate without the values produced by earlier steps
// (track identifiers, references), so a multi-step submission can be
// validated before its first call.
func ValidateSnapshot(op Operation, in Input) error {
	return validate(op, in, false)
}

func validate(op Operation, in Input, dependencies bool) error {
	spec, ok := operations[op]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	var problems []string
	if spec.validate != nil {
		problems = spec.validate(in)
	}
	if dependencies {
		problems = append(problems, spec.dependencies(in)...)
	}
	if len(problems) > 0 {
		return &ValidationError{Operation: op, Problems: problems}
	}
	return nil
}

// Operations returns every registered operation in sorted order
func Operations() []Operation {
	ops := make([]Operation, 0, len(operations))
	for op := range operations {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Authority returns the authority serving op, empty when op is unknown
func (op Operation) Authority() Authority {
	return operations[op].authority
}

// Produces returns what a successful reply to op carries
func (op Operation) Produces() Produces {
	return operations[op].produces
}

// Known reports whether op has a registered builder
func (op Operation) Known() bool {
	_, ok := operations[op]
	return ok
}

// FloorPolicy defines the minimum values substituted for zero weights and
// package counts on operations whose schema rejects zero.
type FloorPolicy struct {
	WeightKg float64
	Packages int
}

// DefaultFloor is the policy used when none is configured
var DefaultFloor = FloorPolicy{WeightKg: 1, Packages: 1}

// Builder produces request documents
type Builder struct {
	now      func() time.Time
	location *time.Location
	floor    FloorPolicy
}

// Option configures a Builder
type Option func(*Builder)

// WithClock sets the clock used for header timestamps
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// WithLocation sets the zone used to format dates and timestamps
func WithLocation(loc *time.Location) Option {
	return func(b *Builder) {
		if loc != nil {
			b.location = loc
		}
	}
}

// WithFloor overrides the positive floor policy
func WithFloor(p FloorPolicy) Option {
	return func(b *Builder) {
		b.floor = p
	}
}

// NewBuilder creates a Builder with the given options
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		now:      time.Now,
		location: time.UTC,
		floor:    DefaultFloor,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates in and serializes the request for op. A *ValidationError
// is returned before any serialization when a required relation is absent.
func (b *Builder) Build(op Operation, auth AuthContext, in Input) (*Message, error) {
	spec, ok := operations[op]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}

	problems := validateAuth(auth)
	if spec.validate != nil {
		problems = append(problems, spec.validate(in)...)
	}
	problems = append(problems, spec.dependencies(in)...)
	if len(problems) > 0 {
		return nil, &ValidationError{Operation: op, Problems: problems}
	}

	w := &writer{
		location:      b.location,
		floor:         b.floor,
		positiveFloor: spec.positiveFloor,
	}

	env := envelopes[spec.authority]
	doc, body := env.build(w, op, auth, b.now().In(b.location))
	spec.body(w, body, in)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serializing %s: %w", op, err)
	}

	digest, err := bodyDigest(doc)
	if err != nil {
		return nil, fmt.Errorf("digesting %s: %w", op, err)
	}

	return &Message{
		Operation:   op,
		Authority:   spec.authority,
		SOAPVersion: env.version,
		Action:      env.action(op),
		Body:        out,
		Digest:      digest,
		Coercions:   w.coercions,
	}, nil
}
