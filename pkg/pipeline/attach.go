package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sirosfoundation/go-customs/pkg/domain"
	"github.com/sirosfoundation/go-customs/pkg/ledger"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

// AttachmentRequest uploads a document for a completed submission
type AttachmentRequest struct {
	ParentID    string
	Company     Company
	Environment string
	// Reference defaults to the external reference of the parent
	Reference  string
	Attachment domain.Attachment
}

// Attach uploads a document in its own transaction linked to ParentID. The
// parent must have succeeded and is never modified, whatever the outcome.
func (p *Pipeline) Attach(ctx context.Context, req AttachmentRequest) (*Result, error) {
	parent, err := p.ledger.Get(ctx, req.ParentID)
	if err != nil {
		return nil, err
	}
	if parent.Status != ledger.StatusSuccess {
		return nil, fmt.Errorf("%w: %s is %s", ErrParentIncomplete, parent.ID, parent.Status)
	}
	if wire.Authority(parent.Authority) != wire.AuthorityPY {
		return nil, &wire.ValidationError{Operation: wire.OpAttachDocument, Problems: []string{"attachments are only accepted for py submissions"}}
	}

	ref := req.Reference
	if ref == "" {
		ref = parent.ExternalReference
	}
	return p.attach(ctx, parent, req.Company, req.Environment, ref, &req.Attachment)
}

func (p *Pipeline) attach(ctx context.Context, parent *ledger.Transaction, company Company, env, ref string, a *domain.Attachment) (*Result, error) {
	r, err := p.start(ctx, &ledger.Transaction{
		ParentID:        parent.ID,
		Family:          ledger.FamilyAttachment,
		Operation:       string(wire.OpAttachDocument),
		Authority:       string(wire.AuthorityPY),
		CompanyID:       company.ID,
		Environment:     env,
		LinkedDomainIDs: parent.LinkedDomainIDs,
	}, company, env, wire.AuthorityPY, SingleStep)
	if err != nil {
		return nil, err
	}
	return p.single(ctx, r, wire.OpAttachDocument, wire.Input{Reference: ref, Attachment: a})
}

// attachAll uploads attachments after a successful primary run. Failures
// are recorded on the attachment transactions only.
func (p *Pipeline) attachAll(ctx context.Context, primary *run, ref string, attachments []domain.Attachment) []*Result {
	if len(attachments) == 0 {
		return nil
	}
	results := make([]*Result, 0, len(attachments))
	for i := range attachments {
		res, err := p.attach(ctx, primary.tx, primary.company, primary.env, ref, &attachments[i])
		if err != nil {
			primary.logger.Warn("attachment failed",
				slog.String("attachment", attachments[i].Name),
				slog.String("error", err.Error()))
		}
		if res != nil {
			results = append(results, res)
		}
	}
	return results
}
