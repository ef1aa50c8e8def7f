package ticket

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"html"
	"math"
	"math/big"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"

	"github.com/sirosfoundation/go-customs/pkg/transport"
)

func generateTestCredentials(t *testing.T) *Credentials {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Organization"},
			CommonName:   "test-company",
			SerialNumber: "CUIT 30712345678",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	return &Credentials{Certificate: cert, PrivateKey: privateKey}
}

func TestNewRequestWindow(t *testing.T) {
	loc := time.FixedZone("ART", -3*3600)
	now := time.Date(2024, 3, 14, 10, 0, 0, 0, loc)

	req, err := NewRequest("wgesregsintia2", now, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, now.Add(-5*time.Minute), req.GenerationTime)
	assert.Equal(t, now.Add(12*time.Hour), req.ExpirationTime, "ttl is capped")
	assert.Equal(t, now.Unix(), req.UniqueID)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(req.Bytes()))
	root := doc.Root()
	assert.Equal(t, "loginTicketRequest", root.Tag)
	assert.Equal(t, "2024-03-14T09:55:00-03:00", root.FindElement("header/generationTime").Text())
	assert.Equal(t, "2024-03-14T22:00:00-03:00", root.FindElement("header/expirationTime").Text())
	assert.Equal(t, "wgesregsintia2", root.FindElement("service").Text())
}

func TestNewRequestErrors(t *testing.T) {
	_, err := NewRequest(" ", time.Now(), time.Hour)
	assert.ErrorIs(t, err, ErrNoService)

	_, err = NewRequest("svc", time.Now(), 0)
	assert.ErrorIs(t, err, ErrBadTTL)
}

func TestUniqueIDClamp(t *testing.T) {
	assert.Equal(t, int64(1), UniqueID(time.Unix(0, 0)))
	assert.Equal(t, int64(1), UniqueID(time.Unix(-100, 0)))
	assert.Equal(t, int64(math.MaxInt32), UniqueID(time.Unix(math.MaxInt32+10, 0)))
	assert.Equal(t, int64(1710421200), UniqueID(time.Unix(1710421200, 0)))
}

func TestCMSSignerSignsExactBytes(t *testing.T) {
	creds := generateTestCredentials(t)
	req, err := NewRequest("wgesregsintia2", time.Now(), time.Hour)
	require.NoError(t, err)

	der, err := CMSSigner{}.Sign(context.Background(), req.Bytes(), creds)
	require.NoError(t, err)

	p7, err := pkcs7.Parse(der)
	require.NoError(t, err)
	require.NoError(t, p7.Verify())
	assert.Equal(t, req.Bytes(), p7.Content)
	require.Len(t, p7.Certificates, 1)
	assert.Equal(t, creds.Certificate.Raw, p7.Certificates[0].Raw)
}

func TestCMSSignerRequiresCredentials(t *testing.T) {
	_, err := CMSSigner{}.Sign(context.Background(), []byte("x"), nil)
	assert.ErrorIs(t, err, ErrNoCredentials)

	_, err = CMSSigner{}.Sign(context.Background(), []byte("x"), &Credentials{})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestCommandSigner(t *testing.T) {
	if _, err := exec.LookPath("openssl"); err != nil {
		t.Skip("openssl not available")
	}
	creds := generateTestCredentials(t)
	data := []byte("<loginTicketRequest/>")

	der, err := CommandSigner{}.Sign(context.Background(), data, creds)
	require.NoError(t, err)

	p7, err := pkcs7.Parse(der)
	require.NoError(t, err)
	assert.Equal(t, data, p7.Content)
}

func TestCommandSignerMissingBinary(t *testing.T) {
	creds := generateTestCredentials(t)
	_, err := CommandSigner{Path: "/nonexistent/openssl"}.Sign(context.Background(), []byte("x"), creds)
	assert.Error(t, err)
}

type fakeCaller struct {
	body []byte
	err  error
	got  *transport.Request
}

func (f *fakeCaller) Call(_ context.Context, req *transport.Request) ([]byte, error) {
	f.got = req
	return f.body, f.err
}

func loginReply(token, sign string) []byte {
	inner := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<loginTicketResponse version="1.0">
  <header>
    <source>CN=wsaahomo, O=AFIP, C=AR</source>
    <destination>SERIALNUMBER=CUIT 30712345678, CN=test-company</destination>
    <uniqueId>383953094</uniqueId>
    <generationTime>2024-03-14T09:55:00.000-03:00</generationTime>
    <expirationTime>2024-03-14T21:55:00.000-03:00</expirationTime>
  </header>
  <credentials>
    <token>` + token + `</token>
    <sign>` + sign + `</sign>
  </credentials>
</loginTicketResponse>`
	return []byte(`<?xml version="1.0" encoding="utf-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <loginCmsResponse xmlns="http://wsaa.view.sua.dvadac.desein.afip.gov">
      <loginCmsReturn>` + html.EscapeString(inner) + `</loginCmsReturn>
    </loginCmsResponse>
  </soapenv:Body>
</soapenv:Envelope>`)
}

func TestClientLogin(t *testing.T) {
	caller := &fakeCaller{body: loginReply("PD94bWwgdG9rZW4=", "c2lnbg==")}
	client := NewClient(caller, nil)

	cms := []byte{0x30, 0x82, 0x01, 0x02}
	cred, err := client.Login(context.Background(), "https://wsaahomo.example/ws/services/LoginCms", cms)
	require.NoError(t, err)

	assert.Equal(t, "PD94bWwgdG9rZW4=", cred.Token)
	assert.Equal(t, "c2lnbg==", cred.Sign)
	assert.Equal(t, "CN=wsaahomo, O=AFIP, C=AR", cred.Source)
	assert.Equal(t, 2024, cred.ExpirationTime.Year())

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(caller.got.Body))
	in0 := doc.FindElement("//loginCms/in0")
	require.NotNil(t, in0)
	assert.Equal(t, base64.StdEncoding.EncodeToString(cms), in0.Text())
	assert.Equal(t, NamespaceLogin, doc.Root().SelectAttrValue("xmlns:wsaa", ""))
}

func TestClientLoginEmptyCredentials(t *testing.T) {
	for _, tc := range []struct{ token, sign string }{{"", "c2lnbg=="}, {"dG9rZW4=", ""}, {" ", " "}} {
		client := NewClient(&fakeCaller{body: loginReply(tc.token, tc.sign)}, nil)
		cred, err := client.Login(context.Background(), "https://wsaa", []byte("cms"))
		assert.ErrorIs(t, err, ErrMissingCredentials)
		assert.Nil(t, cred)
	}
}

func TestClientLoginFault(t *testing.T) {
	fault := `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>
<soapenv:Fault><faultcode xmlns:ns1="http://xml.apache.org/axis/">ns1:cms.cert.expired</faultcode>
<faultstring>Certificado expirado</faultstring></soapenv:Fault></soapenv:Body></soapenv:Envelope>`
	client := NewClient(&fakeCaller{body: []byte(fault)}, nil)

	cred, err := client.Login(context.Background(), "https://wsaa", []byte("cms"))
	require.Error(t, err)
	assert.Nil(t, cred)
	assert.ErrorIs(t, err, ErrLoginFault)

	var fe *FaultError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "cms.cert.expired", fe.Code)
	assert.Equal(t, "Certificado expirado", fe.Message)
}

func TestClientLoginTransportError(t *testing.T) {
	client := NewClient(&fakeCaller{err: transport.ErrTimeout}, nil)
	_, err := client.Login(context.Background(), "https://wsaa", []byte("cms"))
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestParseResponseMalformed(t *testing.T) {
	for _, body := range []string{"gateway error", `<Envelope><Body/></Envelope>`, `<r><loginCmsReturn>not xml</loginCmsReturn></r>`} {
		_, err := ParseResponse([]byte(body))
		assert.ErrorIs(t, err, ErrMalformedResponse, body)
	}
}

func TestParseResponseUnwrapped(t *testing.T) {
	body := `<loginTicketResponse><credentials><token>T</token><sign>S</sign></credentials></loginTicketResponse>`
	cred, err := ParseResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "T", cred.Token)
	assert.True(t, strings.HasPrefix(cred.Sign, "S"))
}
