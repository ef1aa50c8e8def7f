package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-customs/pkg/domain"
	"github.com/sirosfoundation/go-customs/pkg/errclass"
	"github.com/sirosfoundation/go-customs/pkg/ledger"
	"github.com/sirosfoundation/go-customs/pkg/reliability"
	"github.com/sirosfoundation/go-customs/pkg/response"
	"github.com/sirosfoundation/go-customs/pkg/token"
	"github.com/sirosfoundation/go-customs/pkg/transport"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

// codeInternal is recorded for failures of the engine itself, such as a
// ledger write error. It classifies as undocumented.
const codeInternal = "INTERNAL"

// Tokens issues and revokes session credentials
type Tokens interface {
	Acquire(ctx context.Context, companyID, service, environment string) (*token.AuthToken, error)
	Invalidate(ctx context.Context, key token.Key) error
}

// Endpoints resolves where an authority is reached
type Endpoints interface {
	// Service returns the service name credentials are issued for
	Service(a wire.Authority) string
	BusinessEndpoint(a wire.Authority, environment string) (string, error)
}

// Company is the identity a submission is made for
type Company struct {
	ID        string
	TaxID     string
	AgentType string
	Role      string
}

// Observer receives pipeline measurements
type Observer interface {
	ObserveCall(operation, outcome string, d time.Duration)
	ObserveRetry(operation string)
	ObserveSubmission(family, status string)
}

// Config configures a Pipeline
type Config struct {
	Builder     *wire.Builder
	Interpreter *response.Interpreter
	Caller      transport.Caller
	Tokens      Tokens
	Endpoints   Endpoints
	Ledger      *ledger.Ledger
	Retry       reliability.Policy
	Tracker     *reliability.Tracker
	Logger      *slog.Logger
	Observer    Observer
}

// Pipeline runs submissions. It holds no per-run state; every run carries
// its own context value through the calls.
type Pipeline struct {
	builder     *wire.Builder
	interpreter *response.Interpreter
	caller      transport.Caller
	tokens      Tokens
	endpoints   Endpoints
	ledger      *ledger.Ledger
	retry       reliability.Policy
	tracker     *reliability.Tracker
	logger      *slog.Logger
	observer    Observer
}

// New creates a Pipeline
func New(cfg Config) (*Pipeline, error) {
	if cfg.Caller == nil {
		return nil, errors.New("pipeline: caller is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("pipeline: token source is required")
	}
	if cfg.Endpoints == nil {
		return nil, errors.New("pipeline: endpoints are required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("pipeline: ledger is required")
	}

	p := &Pipeline{
		builder:     cfg.Builder,
		interpreter: cfg.Interpreter,
		caller:      cfg.Caller,
		tokens:      cfg.Tokens,
		endpoints:   cfg.Endpoints,
		ledger:      cfg.Ledger,
		retry:       cfg.Retry,
		tracker:     cfg.Tracker,
		logger:      cfg.Logger,
		observer:    cfg.Observer,
	}
	if p.builder == nil {
		p.builder = wire.NewBuilder()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.interpreter == nil {
		p.interpreter = response.NewInterpreter(p.logger)
	}
	if p.tracker == nil {
		p.tracker = reliability.NewTracker()
	}
	return p, nil
}

// Submission is a single-step submission
type Submission struct {
	Operation       wire.Operation
	Company         Company
	Environment     string
	Input           wire.Input
	LinkedDomainIDs []string

	// Attachments are uploaded after a successful primary submission, each
	// in its own transaction
	Attachments []domain.Attachment
}

// Result reports the outcome of a run. It is returned alongside the error
// when the transaction was created.
type Result struct {
	TransactionID string
	Status        ledger.Status
	Reference     string
	// Identifiers holds the identifiers returned per shipment
	Identifiers map[string][]string
	// Tracks holds every track identifier in shipment order
	Tracks      []string
	Coercions   []wire.Coercion
	Skipped     int
	Attachments []*Result
}

type stepKey struct {
	name     string
	shipment string
}

// run is the explicit context of one pipeline run
type run struct {
	id        string
	tx        *ledger.Transaction
	company   Company
	env       string
	authority wire.Authority
	service   string
	endpoint  string
	machine   *Machine
	state     State
	recorded  map[stepKey]ledger.StepRecord
	skipped   int
	coercions []wire.Coercion
	logger    *slog.Logger
}

func (r *run) advance(e Event) error {
	next, err := r.machine.Next(r.state, e)
	if err != nil {
		return err
	}
	r.logger.Debug("pipeline state",
		slog.String("from", string(r.state)),
		slog.String("to", string(next)),
		slog.String("event", string(e)))
	r.state = next
	return nil
}

func (r *run) result() *Result {
	return &Result{
		TransactionID: r.tx.ID,
		Status:        r.tx.Status,
		Reference:     r.tx.ExternalReference,
		Coercions:     r.coercions,
		Skipped:       r.skipped,
	}
}

// start creates the transaction and the run context
func (p *Pipeline) start(ctx context.Context, tx *ledger.Transaction, company Company, env string, authority wire.Authority, machine *Machine) (*run, error) {
	created, err := p.ledger.Create(ctx, tx)
	if err != nil {
		return nil, err
	}
	r := &run{
		id:        uuid.NewString(),
		tx:        created,
		company:   company,
		env:       env,
		authority: authority,
		service:   p.endpoints.Service(authority),
		machine:   machine,
		state:     StatePending,
		recorded:  map[stepKey]ledger.StepRecord{},
	}
	r.logger = p.logger.With(
		slog.String("run_id", r.id),
		slog.String("transaction_id", created.ID),
		slog.String("company_id", company.ID),
		slog.String("authority", string(authority)),
		slog.String("environment", env))
	r.logger.Info("submission started",
		slog.String("family", string(created.Family)),
		slog.String("operation", created.Operation))
	return r, nil
}

// guard marks key as running. The returned release func is nil on error.
func (p *Pipeline) guard(key string) (func(), error) {
	if err := p.tracker.Acquire(key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransactionBusy, err)
	}
	return func() { p.tracker.Release(key) }, nil
}

// Submit runs a single-step operation. Input is fully validated before any
// network call.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (*Result, error) {
	if !sub.Operation.Known() {
		return nil, fmt.Errorf("%w: %s", wire.ErrUnknownOperation, sub.Operation)
	}
	if len(sub.Attachments) > 0 && sub.Operation.Authority() != wire.AuthorityPY {
		return nil, &wire.ValidationError{Operation: sub.Operation, Problems: []string{"attachments are only accepted for py submissions"}}
	}
	if len(sub.LinkedDomainIDs) > 0 {
		release, err := p.guard(fmt.Sprintf("submit:%s:%s:%s", sub.Company.ID, sub.Operation, strings.Join(sub.LinkedDomainIDs, ",")))
		if err != nil {
			return nil, err
		}
		defer release()
	}

	authority := sub.Operation.Authority()
	r, err := p.start(ctx, &ledger.Transaction{
		Family:          ledger.FamilySingle,
		Operation:       string(sub.Operation),
		Authority:       string(authority),
		CompanyID:       sub.Company.ID,
		Environment:     sub.Environment,
		LinkedDomainIDs: sub.LinkedDomainIDs,
	}, sub.Company, sub.Environment, authority, SingleStep)
	if err != nil {
		return nil, err
	}

	res, err := p.single(ctx, r, sub.Operation, sub.Input)
	if err != nil {
		return res, err
	}
	ref := res.Reference
	if ref == "" {
		ref = sub.Input.Reference
	}
	res.Attachments = p.attachAll(ctx, r, ref, sub.Attachments)
	return res, nil
}

func (p *Pipeline) single(ctx context.Context, r *run, op wire.Operation, in wire.Input) (*Result, error) {
	failed := func(err error) (*Result, error) {
		err = p.fail(ctx, r, err)
		return r.result(), err
	}

	if err := wire.Validate(op, in); err != nil {
		return failed(err)
	}
	if err := p.resolve(r); err != nil {
		return failed(err)
	}
	if err := r.advance(EventStart); err != nil {
		return failed(err)
	}

	shipmentID := ""
	if in.Shipment != nil {
		shipmentID = in.Shipment.ID
	}
	out, err := p.exchange(ctx, r, step{name: string(op), shipmentID: shipmentID, op: op, in: in})
	if err != nil {
		return failed(err)
	}
	if err := p.succeed(ctx, r, EventAck, out.reference); err != nil {
		return r.result(), err
	}

	res := r.result()
	if len(out.identifiers) > 0 {
		res.Identifiers = map[string][]string{shipmentID: out.identifiers}
		if op.Produces() == wire.ProducesTracks {
			res.Tracks = out.identifiers
		}
	}
	return res, nil
}

func (p *Pipeline) resolve(r *run) error {
	endpoint, err := p.endpoints.BusinessEndpoint(r.authority, r.env)
	if err != nil {
		return err
	}
	r.endpoint = endpoint
	return nil
}

type step struct {
	name       string
	shipmentID string
	op         wire.Operation
	in         wire.Input
}

type outcome struct {
	identifiers []string
	reference   string
	skipped     bool
}

// exchange performs one remote step: build, send with retries, interpret
// and record. A step recorded by the run being resumed is skipped when its
// request is unchanged.
func (p *Pipeline) exchange(ctx context.Context, r *run, s step) (*outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tok, err := p.tokens.Acquire(ctx, r.company.ID, r.service, r.env)
	if err != nil {
		return nil, err
	}
	msg, err := p.builder.Build(s.op, wire.AuthContext{
		Token:     tok.Token,
		Sign:      tok.Sign,
		TaxID:     r.company.TaxID,
		AgentType: r.company.AgentType,
		Role:      r.company.Role,
	}, s.in)
	if err != nil {
		return nil, err
	}
	r.coercions = append(r.coercions, msg.Coercions...)

	logger := r.logger.With(slog.String("step", s.name), slog.String("operation", string(s.op)))
	if s.shipmentID != "" {
		logger = logger.With(slog.String("shipment_id", s.shipmentID))
	}

	if prev, ok := r.recorded[stepKey{s.name, s.shipmentID}]; ok {
		if prev.RequestDigest != msg.Digest {
			return nil, fmt.Errorf("%w: step %s", ErrResumeUnsafe, s.name)
		}
		return p.replay(ctx, r, s, prev, logger)
	}

	if r.tx, err = p.ledger.Transition(ctx, r.tx.ID, ledger.StatusSending, ledger.Update{Request: msg.Body}); err != nil {
		return nil, err
	}

	var raw []byte
	attempt := 0
	err = reliability.Retry(ctx, p.retry, func(ctx context.Context) error {
		if attempt > 0 {
			tx, err := p.ledger.Transition(ctx, r.tx.ID, ledger.StatusSending, ledger.Update{})
			if err != nil {
				return err
			}
			r.tx = tx
		}
		attempt++

		start := time.Now()
		body, err := p.caller.Call(ctx, &transport.Request{
			Endpoint:    r.endpoint,
			ContentType: msg.ContentType(),
			SOAPAction:  msg.SOAPActionHeader(),
			Body:        msg.Body,
		})
		p.observeCall(s.op, err, time.Since(start))
		if err != nil {
			return err
		}
		raw = body
		return nil
	}, func(n int, err error, wait time.Duration) {
		logger.Warn("remote call failed, retrying",
			slog.Int("retry", n),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
		if p.observer != nil {
			p.observer.ObserveRetry(string(s.op))
		}
		tx, terr := p.ledger.Transition(context.WithoutCancel(ctx), r.tx.ID, ledger.StatusRetry, ledger.Update{})
		if terr != nil {
			logger.Error("failed to record retry", slog.String("error", terr.Error()))
			return
		}
		r.tx = tx
	})
	if err != nil {
		if errors.Is(err, transport.ErrAuth) {
			key := token.Key{CompanyID: r.company.ID, Service: r.service, Environment: r.env}
			if ierr := p.tokens.Invalidate(context.WithoutCancel(ctx), key); ierr != nil {
				logger.Error("failed to invalidate token", slog.String("error", ierr.Error()))
			}
		}
		return nil, err
	}

	if r.tx, err = p.ledger.Transition(ctx, r.tx.ID, ledger.StatusSent, ledger.Update{Response: raw}); err != nil {
		return nil, err
	}

	out, err := p.interpret(s.op, raw)
	if err != nil {
		var ae *AmbiguousResponseError
		if errors.As(err, &ae) && len(ae.Identifiers) > 0 {
			if aerr := p.ledger.AttachIdentifiers(context.WithoutCancel(ctx), r.tx.ID, s.shipmentID, string(s.op), ae.Identifiers, false); aerr != nil {
				logger.Error("failed to record unreviewed identifiers", slog.String("error", aerr.Error()))
			}
		}
		return nil, err
	}

	if err := p.ledger.AttachIdentifiers(ctx, r.tx.ID, s.shipmentID, string(s.op), out.identifiers, true); err != nil {
		return nil, err
	}
	if err := p.ledger.RecordStep(ctx, ledger.StepRecord{
		TransactionID: r.tx.ID,
		Name:          s.name,
		ShipmentID:    s.shipmentID,
		Status:        ledger.StatusSuccess,
		RequestDigest: msg.Digest,
		Reference:     out.reference,
		Identifiers:   out.identifiers,
	}); err != nil {
		return nil, err
	}

	logger.Info("step acknowledged",
		slog.Int("identifiers", len(out.identifiers)),
		slog.String("reference", out.reference),
		slog.Int("attempts", attempt))
	return out, nil
}

// replay carries an acknowledged step of a previous run into this run
func (p *Pipeline) replay(ctx context.Context, r *run, s step, prev ledger.StepRecord, logger *slog.Logger) (*outcome, error) {
	prev.TransactionID = r.tx.ID
	if err := p.ledger.RecordStep(ctx, prev); err != nil {
		return nil, err
	}
	if err := p.ledger.AttachIdentifiers(ctx, r.tx.ID, s.shipmentID, string(s.op), prev.Identifiers, true); err != nil {
		return nil, err
	}
	r.skipped++
	logger.Info("step already acknowledged, skipping", slog.String("digest", prev.RequestDigest))
	return &outcome{identifiers: prev.Identifiers, reference: prev.Reference, skipped: true}, nil
}

// interpret turns a reply into an outcome according to what op produces
func (p *Pipeline) interpret(op wire.Operation, raw []byte) (*outcome, error) {
	res := p.interpreter.Interpret(raw)
	if res.IsFault() {
		return nil, &FaultError{
			Operation: op,
			Code:      res.Fault.Code,
			Message:   res.Fault.Message,
			Raw:       raw,
			parse:     res.Strategy == "empty" || res.Strategy == "unparsable",
		}
	}

	ambiguous := &AmbiguousResponseError{Operation: op, Identifiers: res.Identifiers, Strategy: res.Strategy, Raw: raw}
	switch op.Produces() {
	case wire.ProducesTracks:
		if len(res.Identifiers) == 0 || res.Ambiguous {
			return nil, ambiguous
		}
		return &outcome{identifiers: res.Identifiers, reference: res.Reference}, nil
	case wire.ProducesReference:
		if res.Reference == "" || res.Ambiguous {
			return nil, ambiguous
		}
		return &outcome{reference: res.Reference}, nil
	default:
		if !acknowledges(op, res) {
			return nil, ambiguous
		}
		return &outcome{}, nil
	}
}

// acknowledges reports whether res is a recognised acknowledgement of op:
// a reply element named after the operation, a known result element, or an
// identifier read from a documented tag
func acknowledges(op wire.Operation, res response.Result) bool {
	switch {
	case strings.EqualFold(res.Reply, string(op)+"Response"):
		return true
	case res.Acknowledged:
		return true
	default:
		return res.Found() && !res.Ambiguous
	}
}

// succeed moves the run and its transaction to success. A run whose steps
// were all replayed still passes through sending and sent.
func (p *Pipeline) succeed(ctx context.Context, r *run, e Event, reference string) error {
	if err := r.advance(e); err != nil {
		return p.fail(ctx, r, err)
	}
	if r.tx.Status != ledger.StatusSent {
		for _, s := range []ledger.Status{ledger.StatusSending, ledger.StatusSent} {
			tx, err := p.ledger.Transition(ctx, r.tx.ID, s, ledger.Update{})
			if err != nil {
				return p.fail(ctx, r, err)
			}
			r.tx = tx
		}
	}
	tx, err := p.ledger.Transition(ctx, r.tx.ID, ledger.StatusSuccess, ledger.Update{Reference: reference})
	if err != nil {
		return p.fail(ctx, r, err)
	}
	r.tx = tx
	r.logger.Info("submission succeeded",
		slog.String("reference", reference),
		slog.Int("skipped_steps", r.skipped),
		slog.Int("retries", tx.RetryCount))
	p.observeSubmission(r)
	return nil
}

// fail classifies cause, records it on the transaction and moves the
// transaction to error, or to cancelled when the run's context is done.
// Ledger writes are detached from ctx so a cancelled run is still recorded.
func (p *Pipeline) fail(ctx context.Context, r *run, cause error) error {
	dctx := context.WithoutCancel(ctx)

	status, event := ledger.StatusError, EventFail
	code := Code(cause)
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) {
		status, event = ledger.StatusCancelled, EventCancel
		code = errclass.CodeCancelled
	}
	if code == "" {
		code = codeInternal
	}

	if _, err := p.ledger.AttachError(dctx, r.tx.ID, errclass.Classify(code), rawPayload(cause)); err != nil {
		r.logger.Error("failed to record error", slog.String("error", err.Error()))
	}
	var se *StepError
	if errors.As(cause, &se) {
		if err := p.ledger.RecordStep(dctx, ledger.StepRecord{
			TransactionID: r.tx.ID,
			Name:          se.Step,
			ShipmentID:    se.ShipmentID,
			Status:        status,
		}); err != nil {
			r.logger.Error("failed to record failed step", slog.String("error", err.Error()))
		}
	}
	if !r.tx.Status.Terminal() {
		tx, err := p.ledger.Transition(dctx, r.tx.ID, status, ledger.Update{})
		if err != nil {
			r.logger.Error("failed to record failure", slog.String("error", err.Error()))
		} else {
			r.tx = tx
		}
	}
	if next, err := r.machine.Next(r.state, event); err == nil {
		r.state = next
	}

	r.logger.Error("submission failed",
		slog.String("status", string(status)),
		slog.String("code", code),
		slog.String("state", string(r.state)),
		slog.String("error", cause.Error()))
	p.observeSubmission(r)
	return cause
}

func (p *Pipeline) observeCall(op wire.Operation, err error, d time.Duration) {
	if p.observer == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrTimeout):
		result = "timeout"
	case errors.Is(err, transport.ErrNetwork):
		result = "network"
	case errors.Is(err, transport.ErrAuth):
		result = "auth"
	case errors.Is(err, context.Canceled):
		result = "cancelled"
	default:
		result = "error"
	}
	p.observer.ObserveCall(string(op), result, d)
}

func (p *Pipeline) observeSubmission(r *run) {
	if p.observer != nil {
		p.observer.ObserveSubmission(string(r.tx.Family), string(r.tx.Status))
	}
}
