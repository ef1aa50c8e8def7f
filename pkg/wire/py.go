package wire

import (
	"encoding/base64"
	"strconv"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-customs/pkg/domain"
)

// Fluvial message types (Paraguay). The operation name is the message type
// code carried in tipoMensaje.
const (
	OpFluvialManifest Operation = "XFFM"
	OpFluvialBills    Operation = "XFBL"
	OpFluvialRoute    Operation = "XFBT"
	OpVesselInclusion Operation = "XISP"
	OpVesselExclusion Operation = "XRSP"
	OpTripClosure     Operation = "XFCT"
	OpAttachDocument  Operation = "AdjuntarDocumento"
)

// MaxAttachmentBytes bounds the size of an uploaded document
const MaxAttachmentBytes = 5 << 20

func init() {
	register(OpFluvialManifest, operation{
		authority: AuthorityPY,
		produces:  ProducesReference,
		validate: func(in Input) []string {
			var p problems
			if p.voyage(in.Voyage) {
				p.vessel(in.Voyage.Vessel, "voyage.vessel")
				if in.Voyage.Captain == nil || blank(in.Voyage.Captain.Name) {
					p.addf("voyage.captain is required")
				}
				p.port(in.Voyage.Origin, "voyage.origin")
				p.port(in.Voyage.Destination, "voyage.destination")
				if in.Voyage.DepartureDate.IsZero() {
					p.addf("voyage.departureDate is required")
				}
			}
			return p
		},
		body: pyManifest,
	})
	register(OpFluvialBills, operation{
		authority:     AuthorityPY,
		produces:      ProducesAck,
		positiveFloor: true,
		needs:         ProducesReference,
		validate: func(in Input) []string {
			var p problems
			if p.voyage(in.Voyage) {
				p.shipments(in.Voyage)
			}
			return p
		},
		body: pyBills,
	})
	register(OpFluvialRoute, operation{
		authority: AuthorityPY,
		produces:  ProducesAck,
		needs:     ProducesReference,
		validate: func(in Input) []string {
			var p problems
			if p.voyage(in.Voyage) {
				p.port(in.Voyage.Origin, "voyage.origin")
				p.port(in.Voyage.Destination, "voyage.destination")
			}
			return p
		},
		body: pyRoute,
	})
	register(OpVesselInclusion, operation{
		authority: AuthorityPY,
		produces:  ProducesAck,
		validate: func(in Input) []string {
			var p problems
			p.reference(in.Reference, "reference")
			p.voyage(in.Voyage)
			p.vessel(in.Vessel, "vessel")
			return p
		},
		body: func(w *writer, parent *etree.Element, in Input) {
			el := parent.CreateElement("inclusionEmbarcacion")
			w.text(el, "nroViaje", in.Voyage.VoyageNumber, lenShortID)
			w.text(el, "referencia", in.Reference, lenID)
			pyVessel(w, el, in.Vessel)
		},
	})
	register(OpVesselExclusion, operation{
		authority: AuthorityPY,
		produces:  ProducesAck,
		validate: func(in Input) []string {
			var p problems
			p.reference(in.Reference, "reference")
			p.reference(in.Reason, "reason")
			p.voyage(in.Voyage)
			p.vessel(in.Vessel, "vessel")
			return p
		},
		body: func(w *writer, parent *etree.Element, in Input) {
			el := parent.CreateElement("exclusionEmbarcacion")
			w.text(el, "nroViaje", in.Voyage.VoyageNumber, lenShortID)
			w.text(el, "referencia", in.Reference, lenID)
			w.text(el, "matricula", in.Vessel.Registration, lenRegistration)
			w.text(el, "motivo", in.Reason, lenReason)
		},
	})
	register(OpTripClosure, operation{
		authority: AuthorityPY,
		produces:  ProducesAck,
		validate: func(in Input) []string {
			var p problems
			p.reference(in.Reference, "reference")
			if p.voyage(in.Voyage) && in.Voyage.ArrivalDate.IsZero() {
				p.addf("voyage.arrivalDate is required")
			}
			return p
		},
		body: func(w *writer, parent *etree.Element, in Input) {
			el := parent.CreateElement("cierreViaje")
			w.text(el, "nroViaje", in.Voyage.VoyageNumber, lenShortID)
			w.text(el, "referencia", in.Reference, lenID)
			w.date(el, "fechaCierre", in.Voyage.ArrivalDate)
		},
	})
	register(OpAttachDocument, operation{
		authority: AuthorityPY,
		produces:  ProducesAck,
		validate: func(in Input) []string {
			var p problems
			p.reference(in.Reference, "reference")
			switch {
			case in.Attachment == nil:
				p.addf("attachment is required")
			case len(in.Attachment.Content) == 0:
				p.addf("attachment.content is required")
			case len(in.Attachment.Content) > MaxAttachmentBytes:
				p.addf("attachment exceeds %d bytes", MaxAttachmentBytes)
			}
			return p
		},
		body: func(w *writer, parent *etree.Element, in Input) {
			a := in.Attachment
			w.text(parent, "referencia", in.Reference, lenID)
			w.text(parent, "nombreArchivo", orDefault(a.Name, "documento"), lenFileName)
			w.optText(parent, "tipoDocumento", a.Kind, lenCode)
			w.text(parent, "tipoContenido", orDefault(a.ContentType, "application/octet-stream"), lenName)
			parent.CreateElement("contenido").SetText(base64.StdEncoding.EncodeToString(a.Content))
		},
	})
}

func pyVessel(w *writer, parent *etree.Element, v *domain.Vessel) {
	el := parent.CreateElement("embarcacion")
	w.text(el, "nombre", v.Name, lenName)
	w.text(el, "matricula", v.Registration, lenRegistration)
	w.optText(el, "bandera", v.Flag, 2)
	w.optText(el, "tipo", v.Type, lenCode)
}

func pyPort(w *writer, parent *etree.Element, name string, p *domain.Port) {
	el := parent.CreateElement(name)
	w.text(el, "codigo", p.Code, lenPortCode)
	w.optText(el, "nombre", p.Name, lenName)
	w.optText(el, "aduana", CustomsOffice(p), lenCode)
}

func pyManifest(w *writer, parent *etree.Element, in Input) {
	v := in.Voyage
	m := parent.CreateElement("manifiesto")
	w.text(m, "nroViaje", v.VoyageNumber, lenShortID)
	pyVessel(w, m, v.Vessel)
	if len(v.Convoy) > 0 {
		convoy := m.CreateElement("convoy")
		for i := range v.Convoy {
			pyVessel(w, convoy, &v.Convoy[i])
		}
	}

	c := m.CreateElement("capitan")
	w.text(c, "nombre", v.Captain.Name, lenName)
	w.optText(c, "documento", v.Captain.DocumentNumber, lenDocument)
	w.optText(c, "nacionalidad", v.Captain.Nationality, 2)
	w.optText(c, "licencia", v.Captain.License, lenDocument)

	pyPort(w, m, "puertoOrigen", v.Origin)
	pyPort(w, m, "puertoDestino", v.Destination)
	w.date(m, "fechaSalida", v.DepartureDate)
	w.date(m, "fechaArribo", v.ArrivalDate)

	var bills int
	var gross float64
	for i := range v.Shipments {
		bills += len(v.Shipments[i].BillsOfLading)
		gross += v.Shipments[i].TotalGrossKg()
	}
	m.CreateElement("cantConocimientos").SetText(strconv.Itoa(bills))
	w.decimal(m, "pesoBrutoTotal", gross)
}

func pyBills(w *writer, parent *etree.Element, in Input) {
	v := in.Voyage
	list := parent.CreateElement("conocimientos")
	w.text(list, "nroViaje", v.VoyageNumber, lenShortID)
	w.text(list, "referencia", in.Reference, lenID)
	for i := range v.Shipments {
		for j := range v.Shipments[i].BillsOfLading {
			bl := &v.Shipments[i].BillsOfLading[j]
			field := "billsOfLading[" + bl.Number + "]"

			el := list.CreateElement("conocimiento")
			w.text(el, "nroConocimiento", bl.Number, lenID)
			w.text(el, "embarcador", PartyName(bl.Shipper, ""), lenName)
			w.text(el, "consignatario", PartyName(bl.Consignee, DefaultConsignee), lenName)
			if bl.NotifyParty != nil {
				w.text(el, "notificar", PartyName(bl.NotifyParty, ""), lenName)
			}
			w.text(el, "descripcion", orDefault(bl.CargoDescription, DefaultCargoDescription), lenDescription)
			w.count(el, "cantBultos", field+".packageCount", bl.PackageCount)
			w.text(el, "tipoBulto", orDefault(bl.PackageType, DefaultPackageType), lenPackageType)
			w.weight(el, "pesoBruto", field+".grossWeightKg", bl.GrossWeightKg)
			if bl.LoadingPort != nil {
				w.text(el, "puertoCarga", bl.LoadingPort.Code, lenPortCode)
			}
			if bl.DischargePort != nil {
				w.text(el, "puertoDescarga", bl.DischargePort.Code, lenPortCode)
			}
			for _, c := range bl.Containers {
				w.text(el, "contenedor", c.Number, lenContainer)
			}
		}
	}
}

func pyRoute(w *writer, parent *etree.Element, in Input) {
	v := in.Voyage
	route := parent.CreateElement("hojaRuta")
	w.text(route, "nroViaje", v.VoyageNumber, lenShortID)
	w.text(route, "referencia", in.Reference, lenID)

	legs := route.CreateElement("tramos")
	ports := make([]*domain.Port, 0, len(v.Transits)+2)
	ports = append(ports, v.Origin)
	for i := range v.Transits {
		ports = append(ports, &v.Transits[i])
	}
	ports = append(ports, v.Destination)
	for i, p := range ports {
		leg := legs.CreateElement("tramo")
		leg.CreateElement("orden").SetText(strconv.Itoa(i + 1))
		pyPort(w, leg, "puerto", p)
	}

	containers := v.AllContainers()
	if len(containers) == 0 {
		return
	}
	list := route.CreateElement("contenedores")
	for _, c := range containers {
		el := list.CreateElement("contenedor")
		w.text(el, "numero", c.Number, lenContainer)
		el.CreateElement("tipo").SetText(ContainerType(c.ISOType))
		w.decimal(el, "tara", c.TareKg)
		w.decimal(el, "pesoBruto", c.GrossKg)
		for _, s := range c.Seals {
			w.text(el, "precinto", s, lenSeal)
		}
	}
}
