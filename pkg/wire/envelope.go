package wire

import (
	"time"

	"github.com/beevik/etree"
)

// SOAPVersion selects the envelope namespace
type SOAPVersion int

const (
	SOAP11 SOAPVersion = iota
	SOAP12
)

// Namespaces
const (
	NamespaceSOAP11 = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceSOAP12 = "http://www.w3.org/2003/05/soap-envelope"
	NamespaceAR     = "ar.gov.afip.dia.serviciosweb.wgesregsintia2"
	NamespacePY     = "http://gdsf.aduana.gov.py/fluvial"
)

// Header field lengths
const (
	lenToken = 2048
	lenSign  = 512
	lenTaxID = 11
	lenAgent = 3
	lenRole  = 10
)

type envelope struct {
	version SOAPVersion
	action  func(op Operation) string
	build   func(w *writer, op Operation, auth AuthContext, now time.Time) (*etree.Document, *etree.Element)
}

var envelopes = map[Authority]envelope{
	AuthorityAR: {
		version: SOAP11,
		action: func(op Operation) string {
			return NamespaceAR + "/" + string(op)
		},
		build: buildAREnvelope,
	},
	AuthorityPY: {
		version: SOAP12,
		action: func(op Operation) string {
			if op == OpAttachDocument {
				return NamespacePY + "/adjuntarDocumento"
			}
			return NamespacePY + "/enviarMensajeFluvial"
		},
		build: buildPYEnvelope,
	},
}

func newEnvelope(prefix, ns string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement(prefix + ":Envelope")
	env.CreateAttr("xmlns:"+prefix, ns)
	return doc, env
}

// buildAREnvelope writes a SOAP 1.1 envelope with the company authentication
// block in the header and returns the operation element of the body.
func buildAREnvelope(w *writer, op Operation, auth AuthContext, now time.Time) (*etree.Document, *etree.Element) {
	doc, env := newEnvelope("soap", NamespaceSOAP11)
	env.CreateAttr("xmlns:ns", NamespaceAR)

	header := env.CreateElement("soap:Header")
	authElem := header.CreateElement("ns:argWSAutenticacionEmpresa")
	w.text(authElem, "Token", auth.Token, lenToken)
	w.text(authElem, "Sign", auth.Sign, lenSign)
	w.text(authElem, "CuitEmpresaConectada", auth.TaxID, lenTaxID)
	w.text(authElem, "TipoAgente", auth.AgentType, lenAgent)
	w.text(authElem, "Rol", auth.Role, lenRole)
	w.timestamp(header, "ns:FechaHoraEnvio", now)

	body := env.CreateElement("soap:Body")
	return doc, body.CreateElement("ns:" + string(op))
}

// buildPYEnvelope writes a SOAP 1.2 envelope. Fluvial messages are wrapped
// in enviarMensajeFluvial with their type code; attachments use their own
// operation element.
func buildPYEnvelope(w *writer, op Operation, auth AuthContext, now time.Time) (*etree.Document, *etree.Element) {
	doc, env := newEnvelope("soap", NamespaceSOAP12)
	env.CreateAttr("xmlns:gdsf", NamespacePY)

	header := env.CreateElement("soap:Header")
	authElem := header.CreateElement("gdsf:Autenticacion")
	w.text(authElem, "Token", auth.Token, lenToken)
	w.text(authElem, "Sign", auth.Sign, lenSign)
	w.text(authElem, "Ruc", auth.TaxID, lenTaxID)
	w.optText(authElem, "Rol", auth.Role, lenRole)
	w.timestamp(authElem, "FechaHora", now)

	body := env.CreateElement("soap:Body")
	if op == OpAttachDocument {
		return doc, body.CreateElement("gdsf:adjuntarDocumento")
	}
	call := body.CreateElement("gdsf:enviarMensajeFluvial")
	call.CreateElement("tipoMensaje").SetText(string(op))
	return doc, call.CreateElement("mensaje")
}
