package wire

import (
	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-customs/pkg/domain"
)

// Manifest service operations (Argentina)
const (
	OpRegisterTitle               Operation = "RegistrarTitulo"
	OpRegisterShipments           Operation = "RegistrarEnvios"
	OpRegisterManifest            Operation = "RegistrarMicDta"
	OpUpdatePosition              Operation = "ActualizarPosicion"
	OpQueryStatus                 Operation = "ConsultarEstadoMicDta"
	OpRegisterArrivalNotice       Operation = "RegistrarAvisoArribo"
	OpRectifyArrivalNotice        Operation = "RectificarAvisoArribo"
	OpRegisterDeconsolidatorTitle Operation = "RegistrarTitDesconsolidador"
	OpRectifyDeconsolidatorTitle  Operation = "RectificarTitDesconsolidador"
	OpDeleteDeconsolidatorTitle   Operation = "EliminarTitDesconsolidador"
	OpDummy                       Operation = "Dummy"
)

// Title type for cargo moved under a transport document
const titleTypeTransport = "TR"

func init() {
	register(OpRegisterTitle, operation{
		authority: AuthorityAR,
		produces:  ProducesAck,
		validate: func(in Input) []string {
			var p problems
			if p.voyage(in.Voyage) {
				p.office(in.Voyage.Origin, "voyage.origin")
				p.office(in.Voyage.Destination, "voyage.destination")
			}
			p.shipment(in.Shipment, "shipment")
			return p
		},
		body: arTitle,
	})
	register(OpRegisterShipments, operation{
		authority:     AuthorityAR,
		produces:      ProducesTracks,
		positiveFloor: true,
		validate: func(in Input) []string {
			var p problems
			p.shipment(in.Shipment, "shipment")
			return p
		},
		body: arShipments,
	})
	register(OpRegisterManifest, operation{
		authority:     AuthorityAR,
		produces:      ProducesReference,
		positiveFloor: true,
		needs:         ProducesTracks,
		validate: func(in Input) []string {
			var p problems
			if p.voyage(in.Voyage) {
				p.vessel(in.Voyage.Vessel, "voyage.vessel")
				if in.Voyage.Captain == nil || blank(in.Voyage.Captain.Name) {
					p.addf("voyage.captain is required")
				}
				p.office(in.Voyage.Origin, "voyage.origin")
				p.office(in.Voyage.Destination, "voyage.destination")
				p.shipments(in.Voyage)
			}
			return p
		},
		body: arManifest,
	})
	register(OpUpdatePosition, operation{
		authority: AuthorityAR,
		produces:  ProducesAck,
		validate: func(in Input) []string {
			var p problems
			p.reference(in.Reference, "reference")
			if in.Position == nil {
				p.addf("position is required")
			}
			return p
		},
		body: arPosition,
	})
	register(OpQueryStatus, operation{
		authority: AuthorityAR,
		produces:  ProducesAck,
		validate: func(in Input) []string {
			var p problems
			p.reference(in.Reference, "reference")
			return p
		},
		body: func(w *writer, parent *etree.Element, in Input) {
			w.text(parent, "idMicDta", in.Reference, lenShortID)
		},
	})
	register(OpRegisterArrivalNotice, operation{
		authority: AuthorityAR,
		produces:  ProducesReference,
		validate:  validateArrivalNotice(false),
		body:      arArrivalNotice(false),
	})
	register(OpRectifyArrivalNotice, operation{
		authority: AuthorityAR,
		produces:  ProducesAck,
		validate:  validateArrivalNotice(true),
		body:      arArrivalNotice(true),
	})
	register(OpRegisterDeconsolidatorTitle, operation{
		authority:     AuthorityAR,
		produces:      ProducesTracks,
		positiveFloor: true,
		validate:      validateDeconsolidator(false),
		body:          arDeconsolidatorTitle(false),
	})
	register(OpRectifyDeconsolidatorTitle, operation{
		authority:     AuthorityAR,
		produces:      ProducesAck,
		positiveFloor: true,
		validate:      validateDeconsolidator(true),
		body:          arDeconsolidatorTitle(true),
	})
	register(OpDeleteDeconsolidatorTitle, operation{
		authority: AuthorityAR,
		produces:  ProducesAck,
		validate: func(in Input) []string {
			var p problems
			p.reference(in.Reference, "reference")
			p.reference(in.Reason, "reason")
			return p
		},
		body: func(w *writer, parent *etree.Element, in Input) {
			w.text(parent, "idTitulo", in.Reference, lenShortID)
			w.text(parent, "motivo", in.Reason, lenReason)
		},
	})
	register(OpDummy, operation{
		authority: AuthorityAR,
		produces:  ProducesAck,
		body:      func(*writer, *etree.Element, Input) {},
	})
}

func arTitle(w *writer, parent *etree.Element, in Input) {
	v, s := in.Voyage, in.Shipment
	t := parent.CreateElement("titulo")
	w.text(t, "idTitulo", s.TitleID, lenShortID)
	t.CreateElement("tipTitulo").SetText(titleTypeTransport)
	t.CreateElement("codViaTrans").SetText(RiverTransportMode)
	w.date(t, "fechaEmbarque", v.DepartureDate)
	t.CreateElement("codAduOrigen").SetText(Truncate(CustomsOffice(v.Origin), lenCode))
	t.CreateElement("codAduDestino").SetText(Truncate(CustomsOffice(v.Destination), lenCode))
	t.CreateElement("codPaisOrigen").SetText(CountryCode(v.Origin.CountryCode))
	t.CreateElement("codPaisDestino").SetText(CountryCode(v.Destination.CountryCode))
	w.count(t, "cantBultos", "shipment.packages", s.TotalPackages())
	w.weight(t, "pesoBrutoKg", "shipment.grossWeightKg", s.TotalGrossKg())
}

func arShipments(w *writer, parent *etree.Element, in Input) {
	w.text(parent, "idTitulo", in.Shipment.TitleID, lenShortID)
	arEnvios(w, parent, in.Shipment)
}

func arEnvios(w *writer, parent *etree.Element, s *domain.Shipment) {
	envios := parent.CreateElement("envios")
	for i := range s.BillsOfLading {
		bl := &s.BillsOfLading[i]
		field := "billsOfLading[" + bl.Number + "]"

		e := envios.CreateElement("envio")
		w.text(e, "idEnvio", bl.Number, lenID)
		arParty(w, e, "remitente", bl.Shipper, "")
		arParty(w, e, "consignatario", bl.Consignee, DefaultConsignee)
		if bl.NotifyParty != nil {
			arParty(w, e, "notificar", bl.NotifyParty, "")
		}
		w.text(e, "descMercaderia", orDefault(bl.CargoDescription, DefaultCargoDescription), lenDescription)
		w.count(e, "cantBultos", field+".packageCount", bl.PackageCount)
		w.text(e, "tipEmbalaje", orDefault(bl.PackageType, DefaultPackageType), lenPackageType)
		w.weight(e, "pesoBrutoKg", field+".grossWeightKg", bl.GrossWeightKg)
		if bl.LoadingPort != nil {
			w.text(e, "puertoCarga", bl.LoadingPort.Code, lenPortCode)
		}
		if bl.DischargePort != nil {
			w.text(e, "puertoDescarga", bl.DischargePort.Code, lenPortCode)
		}
		if len(bl.Containers) > 0 {
			arContainers(w, e, bl.Containers)
		}
	}
}

func arParty(w *writer, parent *etree.Element, name string, p *domain.Party, fallback string) {
	el := parent.CreateElement(name)
	w.text(el, "nombre", PartyName(p, fallback), lenName)
	if p == nil {
		return
	}
	w.optText(el, "cuit", p.TaxID, lenTaxID)
	w.optText(el, "domicilio", p.Address, lenAddress)
	if p.Country != "" {
		el.CreateElement("codPais").SetText(CountryCode(p.Country))
	}
}

func arContainers(w *writer, parent *etree.Element, containers []domain.Container) {
	list := parent.CreateElement("contenedores")
	for _, c := range containers {
		el := list.CreateElement("contenedor")
		w.text(el, "nroContenedor", c.Number, lenContainer)
		el.CreateElement("codTipo").SetText(ContainerType(c.ISOType))
		w.decimal(el, "taraKg", c.TareKg)
		w.decimal(el, "pesoBrutoKg", c.GrossKg)
		w.optText(el, "condicion", c.Condition, lenCode)
		if len(c.Seals) > 0 {
			seals := el.CreateElement("precintos")
			for _, s := range c.Seals {
				w.text(seals, "precinto", s, lenSeal)
			}
		}
	}
}

func arVessel(w *writer, parent *etree.Element, name string, v *domain.Vessel) {
	el := parent.CreateElement(name)
	w.text(el, "nombre", v.Name, lenName)
	w.text(el, "matricula", v.Registration, lenRegistration)
	el.CreateElement("codPaisBandera").SetText(CountryCode(v.Flag))
	w.optText(el, "tipo", v.Type, lenCode)
	w.optText(el, "imo", v.IMO, lenShortID)
}

func arManifest(w *writer, parent *etree.Element, in Input) {
	v := in.Voyage
	m := parent.CreateElement("micDta")
	w.text(m, "idMicDta", v.VoyageNumber, lenShortID)
	m.CreateElement("codViaTrans").SetText(RiverTransportMode)
	arVessel(w, m, "embarcacion", v.Vessel)
	if len(v.Convoy) > 0 {
		convoy := m.CreateElement("convoy")
		for i := range v.Convoy {
			arVessel(w, convoy, "embarcacion", &v.Convoy[i])
		}
	}

	c := m.CreateElement("conductor")
	w.text(c, "nombre", v.Captain.Name, lenName)
	w.optText(c, "tipDoc", v.Captain.DocumentType, lenCode)
	w.optText(c, "nroDoc", v.Captain.DocumentNumber, lenDocument)
	if v.Captain.Nationality != "" {
		c.CreateElement("codPaisNacionalidad").SetText(CountryCode(v.Captain.Nationality))
	}

	m.CreateElement("codAduOrigen").SetText(Truncate(CustomsOffice(v.Origin), lenCode))
	m.CreateElement("codAduDestino").SetText(Truncate(CustomsOffice(v.Destination), lenCode))
	m.CreateElement("codPaisOrigen").SetText(CountryCode(v.Origin.CountryCode))
	m.CreateElement("codPaisDestino").SetText(CountryCode(v.Destination.CountryCode))
	w.date(m, "fechaSalida", v.DepartureDate)
	w.date(m, "fechaLlegadaEstimada", v.ArrivalDate)

	var gross float64
	for i := range v.Shipments {
		gross += v.Shipments[i].TotalGrossKg()
	}
	w.weight(m, "pesoBrutoTotalKg", "voyage.grossWeightKg", gross)

	tracks := m.CreateElement("tracks")
	for _, t := range in.Tracks {
		w.text(tracks, "idTrack", t, lenID)
	}
}

func arPosition(w *writer, parent *etree.Element, in Input) {
	w.text(parent, "idMicDta", in.Reference, lenShortID)
	pos := parent.CreateElement("posicion")
	if !in.Position.ReportedAt.IsZero() {
		w.timestamp(pos, "fechaHora", in.Position.ReportedAt)
	}
	pos.CreateElement("latitud").SetText(formatCoordinate(in.Position.Latitude))
	pos.CreateElement("longitud").SetText(formatCoordinate(in.Position.Longitude))
	if in.Position.Waypoint != nil {
		w.text(pos, "codLugar", in.Position.Waypoint.Code, lenPortCode)
	}
	w.optText(pos, "estado", in.Position.Status, lenCode)
}

func validateArrivalNotice(rectify bool) func(Input) []string {
	return func(in Input) []string {
		var p problems
		p.reference(in.Reference, "reference")
		if p.voyage(in.Voyage) {
			p.vessel(in.Voyage.Vessel, "voyage.vessel")
			p.office(in.Voyage.Destination, "voyage.destination")
			if in.Voyage.ArrivalDate.IsZero() {
				p.addf("voyage.arrivalDate is required")
			}
		}
		if rectify {
			p.reference(in.Reason, "reason")
		}
		return p
	}
}

func arArrivalNotice(rectify bool) func(*writer, *etree.Element, Input) {
	return func(w *writer, parent *etree.Element, in Input) {
		v := in.Voyage
		n := parent.CreateElement("avisoArribo")
		w.text(n, "idMicDta", in.Reference, lenShortID)
		n.CreateElement("codAduArribo").SetText(Truncate(CustomsOffice(v.Destination), lenCode))
		w.date(n, "fechaArribo", v.ArrivalDate)
		arVessel(w, n, "embarcacion", v.Vessel)
		if rectify {
			w.text(n, "motivo", in.Reason, lenReason)
		}
	}
}

func validateDeconsolidator(rectify bool) func(Input) []string {
	return func(in Input) []string {
		var p problems
		p.reference(in.Reference, "reference")
		p.shipment(in.Shipment, "shipment")
		if rectify {
			p.reference(in.Reason, "reason")
		}
		return p
	}
}

func arDeconsolidatorTitle(rectify bool) func(*writer, *etree.Element, Input) {
	return func(w *writer, parent *etree.Element, in Input) {
		t := parent.CreateElement("tituloDesconsolidador")
		w.text(t, "idTituloMadre", in.Reference, lenShortID)
		w.text(t, "idTitulo", in.Shipment.TitleID, lenShortID)
		arEnvios(w, t, in.Shipment)
		if rectify {
			w.text(t, "motivo", in.Reason, lenReason)
		}
	}
}
