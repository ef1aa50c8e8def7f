package wire

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/beevik/etree"
)

// Body field lengths shared by both authorities
const (
	lenCode         = 3
	lenPortCode     = 5
	lenContainer    = 11
	lenSeal         = 15
	lenShortID      = 15
	lenID           = 20
	lenRegistration = 20
	lenDocument     = 20
	lenPackageType  = 30
	lenName         = 60
	lenAddress      = 70
	lenDescription  = 100
	lenReason       = 100
	lenFileName     = 100
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05-07:00"
)

// Truncate cleans s and cuts it to at most max runes. Control characters
// that XML 1.0 cannot carry are dropped and runs of whitespace collapse to a
// single space, so the result only depends on s and max.
func Truncate(s string, max int) string {
	s = clean(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return strings.TrimRightFunc(s[:i], unicode.IsSpace)
		}
		n++
	}
	return s
}

func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case r == utf8.RuneError:
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// writer accumulates coercions while a body is serialized
type writer struct {
	location      *time.Location
	floor         FloorPolicy
	positiveFloor bool
	coercions     []Coercion
}

func (w *writer) text(parent *etree.Element, name, value string, max int) *etree.Element {
	el := parent.CreateElement(name)
	el.SetText(Truncate(value, max))
	return el
}

func (w *writer) optText(parent *etree.Element, name, value string, max int) {
	if v := Truncate(value, max); v != "" {
		parent.CreateElement(name).SetText(v)
	}
}

func (w *writer) date(parent *etree.Element, name string, t time.Time) {
	if t.IsZero() {
		return
	}
	parent.CreateElement(name).SetText(t.In(w.location).Format(dateLayout))
}

func (w *writer) timestamp(parent *etree.Element, name string, t time.Time) {
	parent.CreateElement(name).SetText(t.In(w.location).Format(timestampLayout))
}

func (w *writer) decimal(parent *etree.Element, name string, v float64) {
	parent.CreateElement(name).SetText(formatDecimal(v))
}

// weight writes a weight in kilograms, applying the floor when the operation
// rejects zero.
func (w *writer) weight(parent *etree.Element, name, field string, v float64) {
	if w.positiveFloor && v <= 0 {
		w.coercions = append(w.coercions, Coercion{
			Field: field,
			From:  formatDecimal(v),
			To:    formatDecimal(w.floor.WeightKg),
		})
		v = w.floor.WeightKg
	}
	w.decimal(parent, name, v)
}

// count writes a package count, applying the floor when the operation
// rejects zero.
func (w *writer) count(parent *etree.Element, name, field string, v int) {
	if w.positiveFloor && v <= 0 {
		w.coercions = append(w.coercions, Coercion{
			Field: field,
			From:  strconv.Itoa(v),
			To:    strconv.Itoa(w.floor.Packages),
		})
		v = w.floor.Packages
	}
	parent.CreateElement(name).SetText(strconv.Itoa(v))
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
