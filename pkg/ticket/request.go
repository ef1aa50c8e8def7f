package ticket

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
)

const (
	// MaxTTL is the longest validity the authentication service accepts
	MaxTTL = 12 * time.Hour

	// GenerationSkew backdates generationTime to tolerate clock drift
	GenerationSkew = 5 * time.Minute

	// TimeLayout is the timestamp layout used in ticket documents
	TimeLayout = "2006-01-02T15:04:05-07:00"
)

var (
	ErrNoService = errors.New("ticket request requires a service name")
	ErrBadTTL    = errors.New("ticket TTL must be positive")
)

// Request is a serialized ticket request
type Request struct {
	UniqueID       int64
	GenerationTime time.Time
	ExpirationTime time.Time
	Service        string

	raw []byte
}

// NewRequest builds a ticket request for service issued at now. ttl is
// capped at MaxTTL.
func NewRequest(service string, now time.Time, ttl time.Duration) (*Request, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return nil, ErrNoService
	}
	if ttl <= 0 {
		return nil, ErrBadTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	r := &Request{
		UniqueID:       UniqueID(now),
		GenerationTime: now.Add(-GenerationSkew),
		ExpirationTime: now.Add(ttl),
		Service:        service,
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("loginTicketRequest")
	root.CreateAttr("version", "1.0")
	header := root.CreateElement("header")
	header.CreateElement("uniqueId").SetText(strconv.FormatInt(r.UniqueID, 10))
	header.CreateElement("generationTime").SetText(r.GenerationTime.Format(TimeLayout))
	header.CreateElement("expirationTime").SetText(r.ExpirationTime.Format(TimeLayout))
	root.CreateElement("service").SetText(service)

	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize ticket request: %w", err)
	}
	r.raw = raw
	return r, nil
}

// Bytes returns the serialized document. The same slice must be signed and
// sent.
func (r *Request) Bytes() []byte {
	return r.raw
}

// UniqueID derives the request id from now, clamped into [1, 2^31-1] so
// parsers using signed 32-bit integers accept it.
func UniqueID(now time.Time) int64 {
	id := now.Unix()
	if id < 1 {
		return 1
	}
	if id > math.MaxInt32 {
		return math.MaxInt32
	}
	return id
}
