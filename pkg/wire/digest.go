package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"
)

var errNoBody = errors.New("envelope has no Body element")

// bodyDigest returns the hex SHA-256 of the exclusive canonical form of the
// SOAP Body. The header, and with it the send timestamp, is not covered, so
// the digest identifies the business content of a request across attempts.
func bodyDigest(doc *etree.Document) (string, error) {
	body := doc.FindElement("//*[local-name()='Body']")
	if body == nil {
		return "", errNoBody
	}

	c14n := signedxml.ExclusiveCanonicalization{WithComments: false}
	canonical, err := c14n.ProcessElement(body, "")
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// Digest recomputes the body digest of a serialized envelope
func Digest(envelope []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelope); err != nil {
		return "", err
	}
	return bodyDigest(doc)
}
