package ticket

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-customs/pkg/response"
	"github.com/sirosfoundation/go-customs/pkg/transport"
)

// NamespaceLogin is the namespace of the loginCms operation
const NamespaceLogin = "http://wsaa.view.sua.dvadac.desein.afip.gov"

const namespaceSOAP11 = "http://schemas.xmlsoap.org/soap/envelope/"

var (
	ErrLoginFault         = errors.New("authentication service returned a fault")
	ErrMissingCredentials = errors.New("credential document has no token or sign")
	ErrMalformedResponse  = errors.New("malformed login response")
)

// FaultError carries the fault reported by the authentication service
type FaultError struct {
	Code    string
	Message string
}

func (e *FaultError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("login fault: %s", e.Message)
	}
	return fmt.Sprintf("login fault %s: %s", e.Code, e.Message)
}

func (e *FaultError) Unwrap() error { return ErrLoginFault }

// Credential is the token and sign pair issued by the authentication service
type Credential struct {
	Token          string
	Sign           string
	Source         string
	Destination    string
	GenerationTime time.Time
	ExpirationTime time.Time
}

// Client calls the loginCms operation
type Client struct {
	caller transport.Caller
	logger *slog.Logger
}

// NewClient creates a new login client
func NewClient(caller transport.Caller, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{caller: caller, logger: logger}
}

// Login exchanges a signed ticket request for a credential
func (c *Client) Login(ctx context.Context, endpoint string, cms []byte) (*Credential, error) {
	envelope, err := LoginEnvelope(cms)
	if err != nil {
		return nil, err
	}

	body, err := c.caller.Call(ctx, &transport.Request{
		Endpoint:    endpoint,
		ContentType: "text/xml; charset=utf-8",
		SOAPAction:  `""`,
		Body:        envelope,
	})
	if err != nil {
		return nil, err
	}

	cred, err := ParseResponse(body)
	if err != nil {
		c.logger.Warn("login rejected", slog.String("endpoint", endpoint), slog.String("error", err.Error()))
		return nil, err
	}
	c.logger.Debug("login succeeded",
		slog.String("endpoint", endpoint),
		slog.Time("expiration_time", cred.ExpirationTime))
	return cred, nil
}

// LoginEnvelope wraps the base64 encoded CMS in a loginCms request
func LoginEnvelope(cms []byte) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", namespaceSOAP11)
	env.CreateAttr("xmlns:wsaa", NamespaceLogin)
	env.CreateElement("soapenv:Header")
	login := env.CreateElement("soapenv:Body").CreateElement("wsaa:loginCms")
	login.CreateElement("wsaa:in0").SetText(base64.StdEncoding.EncodeToString(cms))

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize login envelope: %w", err)
	}
	return out, nil
}

// ParseResponse extracts the credential from a loginCms reply. The
// loginCmsReturn element carries the credential document as escaped text.
func ParseResponse(body []byte) (*Credential, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil || doc.Root() == nil {
		if res, ok := (response.FaultStrategy{}).Try(&response.Body{Raw: body}); ok {
			return nil, &FaultError{Code: res.Fault.Code, Message: res.Fault.Message}
		}
		return nil, fmt.Errorf("%w: not xml", ErrMalformedResponse)
	}

	if res, ok := (response.FaultStrategy{}).Try(&response.Body{Raw: body, Doc: doc}); ok {
		return nil, &FaultError{Code: res.Fault.Code, Message: res.Fault.Message}
	}

	ret := findLocal(doc.Root(), "loginCmsReturn")
	if ret == nil {
		// Some gateways return the credential document unwrapped
		if doc.Root().Tag == "loginTicketResponse" {
			return parseCredential(doc)
		}
		return nil, fmt.Errorf("%w: no loginCmsReturn", ErrMalformedResponse)
	}

	inner := etree.NewDocument()
	if err := inner.ReadFromString(strings.TrimSpace(ret.Text())); err != nil || inner.Root() == nil {
		return nil, fmt.Errorf("%w: credential document is not xml", ErrMalformedResponse)
	}
	return parseCredential(inner)
}

func parseCredential(doc *etree.Document) (*Credential, error) {
	root := doc.Root()
	cred := &Credential{
		Token:       text(root, "credentials/token"),
		Sign:        text(root, "credentials/sign"),
		Source:      text(root, "header/source"),
		Destination: text(root, "header/destination"),
	}
	if cred.Token == "" || cred.Sign == "" {
		return nil, ErrMissingCredentials
	}
	cred.GenerationTime = parseTime(text(root, "header/generationTime"))
	cred.ExpirationTime = parseTime(text(root, "header/expirationTime"))
	return cred, nil
}

func text(root *etree.Element, path string) string {
	if e := root.FindElement(path); e != nil {
		return strings.TrimSpace(e.Text())
	}
	return ""
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, TimeLayout, "2006-01-02T15:04:05.000-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func findLocal(e *etree.Element, name string) *etree.Element {
	if e.Tag == name {
		return e
	}
	for _, c := range e.ChildElements() {
		if found := findLocal(c, name); found != nil {
			return found
		}
	}
	return nil
}
