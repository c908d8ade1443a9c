package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// TimeLayout is the canonical punch timestamp layout, exactly as the
	// terminals send it. Timestamps travel as strings end to end; nothing
	// in the pipeline converts between timezones.
	TimeLayout = "2006-01-02 15:04:05"

	// RemoteTimeLayout is the textual layout the aggregation API expects.
	RemoteTimeLayout = "2006/01/02 15:04:05"

	// UnknownSerial marks punches whose upload did not carry a usable SN.
	UnknownSerial = "unknown"
)

var (
	ErrShortLine = errors.New("attlog line has fewer than 5 fields")
	ErrBadField  = errors.New("attlog field is not numeric")
)

// Punch is one attendance event as reported by a terminal. The pair
// (ExternalID, Timestamp) identifies the physical event; DeviceRecordID
// refines that identity when the terminal supplies one.
type Punch struct {
	ExternalID     string   `json:"zkid"`
	Timestamp      string   `json:"timestamp"`
	Direction      int      `json:"inorout"`
	EventType      int      `json:"attype"`
	DeviceSerial   string   `json:"sn"`
	DeviceLabel    string   `json:"device,omitempty"`
	DeviceRecordID string   `json:"devrec,omitempty"`
	Aux            []string `json:"aux,omitempty"`
	LoggedAt       string   `json:"logged_at,omitempty"`
	BatchID        string   `json:"batch,omitempty"`
}

// Key returns the deduplication key: external id, timestamp and event type,
// refined by the device-local record id when present. Terminals do not always
// supply a record id, so it narrows the key rather than defining it.
func (p Punch) Key() string {
	k := p.ExternalID + "|" + p.Timestamp + "|" + strconv.Itoa(p.EventType)
	if p.DeviceRecordID != "" {
		k += "|" + p.DeviceRecordID
	}
	return k
}

// ParseLine tokenizes one ATTLOG upload line into a Punch. A line is
// tab/whitespace separated: external id, date, time, direction, event type,
// then any number of device-specific trailing fields. Trailing fields are
// kept verbatim in Aux; when a line carries at least seven fields the final
// one is the device-local record id.
func ParseLine(line string) (Punch, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Punch{}, fmt.Errorf("%w: got %d", ErrShortLine, len(fields))
	}

	direction, err := strconv.Atoi(fields[3])
	if err != nil {
		return Punch{}, fmt.Errorf("%w: direction %q", ErrBadField, fields[3])
	}
	eventType, err := strconv.Atoi(fields[4])
	if err != nil {
		return Punch{}, fmt.Errorf("%w: event type %q", ErrBadField, fields[4])
	}

	p := Punch{
		ExternalID: fields[0],
		Timestamp:  fields[1] + " " + fields[2],
		Direction:  direction,
		EventType:  eventType,
	}
	if len(fields) > 5 {
		p.Aux = append(p.Aux, fields[5:]...)
	}
	if len(fields) >= 7 {
		p.DeviceRecordID = fields[len(fields)-1]
	}
	return p, nil
}
