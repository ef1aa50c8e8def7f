// Package domain holds the read-only voyage snapshot consumed by the wire
// builders. Snapshots are owned and mutated elsewhere; nothing in this module
// writes to them.
package domain

import "time"

// Voyage is a river or maritime trip carrying one or more shipments
type Voyage struct {
	ID            string     `json:"id"`
	VoyageNumber  string     `json:"voyageNumber"`
	Vessel        *Vessel    `json:"vessel,omitempty"`
	Convoy        []Vessel   `json:"convoy,omitempty"`
	Captain       *Captain   `json:"captain,omitempty"`
	Origin        *Port      `json:"origin,omitempty"`
	Destination   *Port      `json:"destination,omitempty"`
	Transits      []Port     `json:"transits,omitempty"`
	DepartureDate time.Time  `json:"departureDate"`
	ArrivalDate   time.Time  `json:"arrivalDate"`
	Shipments     []Shipment `json:"shipments,omitempty"`
}

// Vessel is a barge, tug or pusher
type Vessel struct {
	Name         string `json:"name"`
	Registration string `json:"registration"`
	Flag         string `json:"flag"`
	Type         string `json:"type"`
	IMO          string `json:"imo,omitempty"`
}

// Captain identifies the master in charge of the convoy
type Captain struct {
	Name           string `json:"name"`
	DocumentType   string `json:"documentType,omitempty"`
	DocumentNumber string `json:"documentNumber"`
	Nationality    string `json:"nationality"`
	License        string `json:"license,omitempty"`
}

// Port is a place of loading, discharge or transit
type Port struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	CountryCode string `json:"countryCode"`
	CustomsCode string `json:"customsCode,omitempty"`
}

// Party is a shipper, consignee or notify party
type Party struct {
	Name    string `json:"name"`
	TaxID   string `json:"taxId,omitempty"`
	Address string `json:"address,omitempty"`
	Country string `json:"country,omitempty"`
}

// Shipment groups the bills of lading declared under one title
type Shipment struct {
	ID            string         `json:"id"`
	TitleID       string         `json:"titleId"`
	BillsOfLading []BillOfLading `json:"billsOfLading,omitempty"`
}

// BillOfLading declares the cargo carried for one shipper
type BillOfLading struct {
	Number           string      `json:"number"`
	Shipper          *Party      `json:"shipper,omitempty"`
	Consignee        *Party      `json:"consignee,omitempty"`
	NotifyParty      *Party      `json:"notifyParty,omitempty"`
	CargoDescription string      `json:"cargoDescription"`
	GrossWeightKg    float64     `json:"grossWeightKg"`
	PackageCount     int         `json:"packageCount"`
	PackageType      string      `json:"packageType"`
	LoadingPort      *Port       `json:"loadingPort,omitempty"`
	DischargePort    *Port       `json:"dischargePort,omitempty"`
	Containers       []Container `json:"containers,omitempty"`
}

// Container is an intermodal unit with its seals
type Container struct {
	Number    string   `json:"number"`
	ISOType   string   `json:"isoType"`
	Seals     []string `json:"seals,omitempty"`
	TareKg    float64  `json:"tareKg"`
	GrossKg   float64  `json:"grossKg"`
	Condition string   `json:"condition,omitempty"`
}

// Position is a reported location of a convoy underway
type Position struct {
	ReportedAt time.Time `json:"reportedAt"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Waypoint   *Port     `json:"waypoint,omitempty"`
	Status     string    `json:"status,omitempty"`
}

// Attachment is a document uploaded after a primary message
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Kind        string `json:"kind"`
	Content     []byte `json:"content"`
}

// AllContainers returns the containers of every bill of lading in shipment
// order, without deduplication.
func (v *Voyage) AllContainers() []Container {
	var out []Container
	for _, s := range v.Shipments {
		for _, bl := range s.BillsOfLading {
			out = append(out, bl.Containers...)
		}
	}
	return out
}

// TotalGrossKg sums the declared gross weight of every bill of lading
func (s *Shipment) TotalGrossKg() float64 {
	var total float64
	for _, bl := range s.BillsOfLading {
		total += bl.GrossWeightKg
	}
	return total
}

// TotalPackages sums the declared package count of every bill of lading
func (s *Shipment) TotalPackages() int {
	var total int
	for _, bl := range s.BillsOfLading {
		total += bl.PackageCount
	}
	return total
}
