package wire

import (
	"fmt"
	"strings"

	"github.com/sirosfoundation/go-customs/pkg/domain"
)

// ValidationError reports required relations missing from a snapshot.
// Nothing has been serialized or sent when it is returned.
type ValidationError struct {
	Operation Operation
	Problems  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s request: %s", e.Operation, strings.Join(e.Problems, "; "))
}

type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) require(ok bool, field string) {
	if !ok {
		p.addf("%s is required", field)
	}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func validateAuth(auth AuthContext) []string {
	var p problems
	p.require(!blank(auth.Token), "auth.token")
	p.require(!blank(auth.Sign), "auth.sign")
	p.require(!blank(auth.TaxID), "auth.taxId")
	return p
}

func (p *problems) voyage(v *domain.Voyage) bool {
	if v == nil {
		p.addf("voyage is required")
		return false
	}
	p.require(!blank(v.VoyageNumber), "voyage.voyageNumber")
	return true
}

func (p *problems) vessel(v *domain.Vessel, field string) {
	if v == nil {
		p.addf("%s is required", field)
		return
	}
	p.require(!blank(v.Name), field+".name")
	p.require(!blank(v.Registration), field+".registration")
}

func (p *problems) office(port *domain.Port, field string) {
	if port == nil {
		p.addf("%s is required", field)
		return
	}
	if CustomsOffice(port) == "" {
		p.addf("%s has no customs office code", field)
	}
}

func (p *problems) port(port *domain.Port, field string) {
	if port == nil || blank(port.Code) {
		p.addf("%s is required", field)
	}
}

func (p *problems) shipment(s *domain.Shipment, field string) {
	if s == nil {
		p.addf("%s is required", field)
		return
	}
	p.require(!blank(s.TitleID), field+".titleId")
	if len(s.BillsOfLading) == 0 {
		p.addf("%s has no bills of lading", field)
	}
	for i, bl := range s.BillsOfLading {
		p.require(!blank(bl.Number), fmt.Sprintf("%s.billsOfLading[%d].number", field, i))
		for j, c := range bl.Containers {
			p.require(!blank(c.Number), fmt.Sprintf("%s.billsOfLading[%d].containers[%d].number", field, i, j))
		}
	}
}

func (p *problems) shipments(v *domain.Voyage) {
	if len(v.Shipments) == 0 {
		p.addf("voyage has no shipments")
		return
	}
	for i := range v.Shipments {
		p.shipment(&v.Shipments[i], fmt.Sprintf("voyage.shipments[%d]", i))
	}
}

func (p *problems) reference(ref, field string) {
	p.require(!blank(ref), field)
}
