package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sirosfoundation/go-customs/pkg/domain"
	"github.com/sirosfoundation/go-customs/pkg/ledger"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

// Step names recorded on the ledger
const (
	StepTitle    = "title"
	StepDetail   = "detail"
	StepManifest = "manifest"
	StepBills    = "bills"
	StepRoute    = "route"
)

// VoyageSubmission is a multi-step voyage submission
type VoyageSubmission struct {
	Company         Company
	Environment     string
	Voyage          *domain.Voyage
	LinkedDomainIDs []string

	// Attachments are uploaded after a successful fluvial voyage
	Attachments []domain.Attachment
}

func (sub VoyageSubmission) linked() []string {
	if len(sub.LinkedDomainIDs) > 0 || sub.Voyage == nil || sub.Voyage.ID == "" {
		return sub.LinkedDomainIDs
	}
	return []string{sub.Voyage.ID}
}

// SubmitVoyage registers the title and shipment detail of every shipment,
// then the manifest carrying all track identifiers. The first failure ends
// the run: no later shipment and no manifest is attempted.
func (p *Pipeline) SubmitVoyage(ctx context.Context, sub VoyageSubmission) (*Result, error) {
	return p.voyage(ctx, sub, "", nil)
}

// SubmitFluvialVoyage sends the manifest header, the bills of lading and
// the route sheet of a fluvial voyage.
func (p *Pipeline) SubmitFluvialVoyage(ctx context.Context, sub VoyageSubmission) (*Result, error) {
	return p.fluvial(ctx, sub, "", nil)
}

// Resume runs a failed, cancelled or expired voyage again as a new
// transaction linked to txID. Steps acknowledged by the earlier run are
// skipped when their request is unchanged; a changed request fails the run
// with ErrResumeUnsafe before anything is sent for it.
func (p *Pipeline) Resume(ctx context.Context, txID string, sub VoyageSubmission) (*Result, error) {
	parent, err := p.ledger.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	switch {
	case parent.Family != ledger.FamilyVoyage:
		return nil, fmt.Errorf("%w: %s is a %s transaction", ErrNotResumable, txID, parent.Family)
	case parent.Status != ledger.StatusError && parent.Status != ledger.StatusCancelled && parent.Status != ledger.StatusExpired:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotResumable, txID, parent.Status)
	case parent.CompanyID != sub.Company.ID || parent.Environment != sub.Environment:
		return nil, fmt.Errorf("%w: %s belongs to another company or environment", ErrNotResumable, txID)
	}

	release, err := p.guard("resume:" + txID)
	if err != nil {
		return nil, err
	}
	defer release()

	steps, err := p.ledger.Steps(ctx, txID)
	if err != nil {
		return nil, err
	}
	recorded := make(map[stepKey]ledger.StepRecord, len(steps))
	for _, s := range steps {
		if s.Status == ledger.StatusSuccess {
			recorded[stepKey{s.Name, s.ShipmentID}] = s
		}
	}

	switch wire.Authority(parent.Authority) {
	case wire.AuthorityAR:
		return p.voyage(ctx, sub, txID, recorded)
	case wire.AuthorityPY:
		return p.fluvial(ctx, sub, txID, recorded)
	default:
		return nil, fmt.Errorf("%w: unknown authority %q", ErrNotResumable, parent.Authority)
	}
}

// startVoyage guards the voyage, creates its transaction and moves it to
// validating
func (p *Pipeline) startVoyage(ctx context.Context, sub VoyageSubmission, op wire.Operation, parentID string, machine *Machine, recorded map[stepKey]ledger.StepRecord) (*run, func(), error) {
	if sub.Voyage == nil {
		return nil, nil, &wire.ValidationError{Operation: op, Problems: []string{"voyage is required"}}
	}
	release, err := p.guard(fmt.Sprintf("voyage:%s:%s:%s", op.Authority(), sub.Company.ID, sub.Voyage.ID))
	if err != nil {
		return nil, nil, err
	}

	r, err := p.start(ctx, &ledger.Transaction{
		ParentID:        parentID,
		Family:          ledger.FamilyVoyage,
		Operation:       string(op),
		Authority:       string(op.Authority()),
		CompanyID:       sub.Company.ID,
		Environment:     sub.Environment,
		LinkedDomainIDs: sub.linked(),
	}, sub.Company, sub.Environment, op.Authority(), machine)
	if err != nil {
		release()
		return nil, nil, err
	}
	if recorded != nil {
		r.recorded = recorded
		r.logger.Info("resuming",
			slog.String("parent_id", parentID),
			slog.Int("recorded_steps", len(recorded)))
	}

	if err := r.advance(EventStart); err != nil {
		return r, release, p.fail(ctx, r, err)
	}
	if r.tx, err = p.ledger.Transition(ctx, r.tx.ID, ledger.StatusValidating, ledger.Update{}); err != nil {
		return r, release, p.fail(ctx, r, err)
	}
	return r, release, nil
}

func (p *Pipeline) voyage(ctx context.Context, sub VoyageSubmission, parentID string, recorded map[stepKey]ledger.StepRecord) (*Result, error) {
	r, release, err := p.startVoyage(ctx, sub, wire.OpRegisterManifest, parentID, VoyageSteps, recorded)
	if release != nil {
		defer release()
	}
	if err != nil {
		if r == nil {
			return nil, err
		}
		return r.result(), err
	}

	v := sub.Voyage
	identifiers := map[string][]string{}
	var tracks []string
	failed := func(err error) (*Result, error) {
		err = p.fail(ctx, r, err)
		res := r.result()
		res.Identifiers, res.Tracks = identifiers, tracks
		return res, err
	}

	if err := validateVoyage(v); err != nil {
		return failed(err)
	}
	if err := p.resolve(r); err != nil {
		return failed(err)
	}

	for i := range v.Shipments {
		s := &v.Shipments[i]
		if _, err := p.perform(ctx, r, step{name: StepTitle, shipmentID: s.ID, op: wire.OpRegisterTitle, in: wire.Input{Voyage: v, Shipment: s}}, EventTitleAck); err != nil {
			return failed(err)
		}
		out, err := p.perform(ctx, r, step{name: StepDetail, shipmentID: s.ID, op: wire.OpRegisterShipments, in: wire.Input{Voyage: v, Shipment: s}}, EventDetailAck)
		if err != nil {
			return failed(err)
		}
		identifiers[s.ID] = out.identifiers
		tracks = append(tracks, out.identifiers...)
		if err := r.advance(EventIdentifiers); err != nil {
			return failed(err)
		}
	}

	out, err := p.perform(ctx, r, step{name: StepManifest, op: wire.OpRegisterManifest, in: wire.Input{Voyage: v, Tracks: tracks}}, EventManifestAck)
	if err != nil {
		return failed(err)
	}
	if err := p.succeed(ctx, r, EventComplete, out.reference); err != nil {
		res := r.result()
		res.Identifiers, res.Tracks = identifiers, tracks
		return res, err
	}

	res := r.result()
	res.Identifiers, res.Tracks = identifiers, tracks
	return res, nil
}

func (p *Pipeline) fluvial(ctx context.Context, sub VoyageSubmission, parentID string, recorded map[stepKey]ledger.StepRecord) (*Result, error) {
	r, release, err := p.startVoyage(ctx, sub, wire.OpFluvialManifest, parentID, FluvialSteps, recorded)
	if release != nil {
		defer release()
	}
	if err != nil {
		if r == nil {
			return nil, err
		}
		return r.result(), err
	}

	v := sub.Voyage
	failed := func(err error) (*Result, error) {
		err = p.fail(ctx, r, err)
		return r.result(), err
	}

	if err := errors.Join(
		wire.ValidateSnapshot(wire.OpFluvialManifest, wire.Input{Voyage: v}),
		wire.ValidateSnapshot(wire.OpFluvialBills, wire.Input{Voyage: v}),
		wire.ValidateSnapshot(wire.OpFluvialRoute, wire.Input{Voyage: v}),
	); err != nil {
		return failed(err)
	}
	if err := p.resolve(r); err != nil {
		return failed(err)
	}

	manifest, err := p.perform(ctx, r, step{name: StepManifest, op: wire.OpFluvialManifest, in: wire.Input{Voyage: v}}, EventManifestAck)
	if err != nil {
		return failed(err)
	}
	ref := manifest.reference
	if _, err := p.perform(ctx, r, step{name: StepBills, op: wire.OpFluvialBills, in: wire.Input{Voyage: v, Reference: ref}}, EventBillsAck); err != nil {
		return failed(err)
	}
	if _, err := p.perform(ctx, r, step{name: StepRoute, op: wire.OpFluvialRoute, in: wire.Input{Voyage: v, Reference: ref}}, EventRouteAck); err != nil {
		return failed(err)
	}
	if err := p.succeed(ctx, r, EventComplete, ref); err != nil {
		return r.result(), err
	}

	res := r.result()
	res.Attachments = p.attachAll(ctx, r, ref, sub.Attachments)
	return res, nil
}

// perform runs s and advances the run on e
func (p *Pipeline) perform(ctx context.Context, r *run, s step, e Event) (*outcome, error) {
	out, err := p.exchange(ctx, r, s)
	if err == nil {
		err = r.advance(e)
	}
	if err != nil {
		return nil, &StepError{Step: s.name, ShipmentID: s.shipmentID, Err: err}
	}
	return out, nil
}

// validateVoyage checks every step of an ar voyage against the snapshot
// before the first call
func validateVoyage(v *domain.Voyage) error {
	var errs []error
	for i := range v.Shipments {
		s := &v.Shipments[i]
		errs = append(errs,
			wire.ValidateSnapshot(wire.OpRegisterTitle, wire.Input{Voyage: v, Shipment: s}),
			wire.ValidateSnapshot(wire.OpRegisterShipments, wire.Input{Voyage: v, Shipment: s}))
	}
	errs = append(errs, wire.ValidateSnapshot(wire.OpRegisterManifest, wire.Input{Voyage: v}))
	return errors.Join(errs...)
}
