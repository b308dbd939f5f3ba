package domain

import (
	"sort"
	"strings"
	"time"
)

// DeliveryState is the position of an order in the carrier lifecycle.
type DeliveryState string

const (
	StateNew                  DeliveryState = "NEW"
	StateReferencePlaceholder DeliveryState = "REFERENCE_PLACEHOLDER"
	StateReferenceAssigned    DeliveryState = "REFERENCE_ASSIGNED"
	StateLabelPrinted         DeliveryState = "LABEL_PRINTED"
	StateInTransit            DeliveryState = "IN_TRANSIT"
	StateDelivered            DeliveryState = "DELIVERED"
	StateUnknown              DeliveryState = "UNKNOWN"
)

var stateRank = map[DeliveryState]int{
	StateUnknown:              0,
	StateNew:                  1,
	StateReferencePlaceholder: 2,
	StateReferenceAssigned:    3,
	StateLabelPrinted:         4,
	StateInTransit:            5,
	StateDelivered:            6,
}

func (s DeliveryState) rank() int {
	return stateRank[s]
}

// Before reports whether s is an earlier lifecycle stage than other.
func (s DeliveryState) Before(other DeliveryState) bool {
	return s.rank() < other.rank()
}

// Overrides reports whether a stored record in state stored may be rewritten
// with s. Only a record that never got past creation may fall back to UNKNOWN.
func (s DeliveryState) Overrides(stored DeliveryState) bool {
	if s == StateUnknown && !stored.Resolvable() {
		return true
	}
	return !s.Before(stored)
}

// Blockers lists the stored states that s may not overwrite.
func (s DeliveryState) Blockers() []DeliveryState {
	out := []DeliveryState{}
	for st := range stateRank {
		if !s.Overrides(st) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rank() < out[j].rank() })
	return out
}

// Resolvable is false for records that never got past creation.
func (s DeliveryState) Resolvable() bool {
	return s != "" && s != StateNew && s != StateUnknown
}

// CarrierStatus is the normalised carrier vocabulary.
type CarrierStatus string

const (
	CarrierCreated        CarrierStatus = "CREATED"
	CarrierInTransit      CarrierStatus = "IN_TRANSIT"
	CarrierOutForDelivery CarrierStatus = "OUT_FOR_DELIVERY"
	CarrierDelivered      CarrierStatus = "DELIVERED"
	CarrierUnknown        CarrierStatus = "UNKNOWN"
)

var carrierRank = map[CarrierStatus]int{
	CarrierCreated:        1,
	CarrierInTransit:      2,
	CarrierOutForDelivery: 3,
	CarrierDelivered:      4,
}

func (c CarrierStatus) rank() int {
	return carrierRank[c]
}

// State maps a carrier status to the lifecycle state it proves. CREATED and
// UNKNOWN prove nothing beyond what the record already knows.
func (c CarrierStatus) State() (DeliveryState, bool) {
	switch c {
	case CarrierInTransit, CarrierOutForDelivery:
		return StateInTransit, true
	case CarrierDelivered:
		return StateDelivered, true
	default:
		return "", false
	}
}

type Delivery struct {
	State                  DeliveryState `json:"state,omitempty"`
	Courier                string        `json:"courier,omitempty"`
	ReferenceIDPlaceholder string        `json:"referenceIdPlaceholder,omitempty"`
	ReferenceID            string        `json:"referenceId,omitempty"`
	TrackingNumber         string        `json:"trackingNumber,omitempty"`
	Status                 CarrierStatus `json:"status,omitempty"`
	StatusRaw              string        `json:"statusRaw,omitempty"`
	DeliveredAt            *time.Time    `json:"dateDelivered,omitempty"`
	DispatchedAt           *time.Time    `json:"cargoDispatchDate,omitempty"`
	LabelRef               string        `json:"labelRef,omitempty"`
	LabelPrintedAt         *time.Time    `json:"labelPrintedAt,omitempty"`
	LastCheckedAt          *time.Time    `json:"lastCheckedAt,omitempty"`
	PublicURL              string        `json:"publicUrl,omitempty"`
	// FulfillmentStatus is the storefront's own view, e.g. NOT_FULFILLED.
	FulfillmentStatus string `json:"fulfillmentStatus,omitempty"`
}

// Reference returns the official carrier reference, falling back to the placeholder.
func (d Delivery) Reference() string {
	if strings.TrimSpace(d.ReferenceID) != "" {
		return d.ReferenceID
	}
	return d.ReferenceIDPlaceholder
}

// HasOfficialReference is true once the carrier has accepted the shipment.
func (d Delivery) HasOfficialReference() bool {
	return strings.TrimSpace(d.ReferenceID) != ""
}

// Advance moves the record forward to next. It never moves it backwards and
// reports whether the state changed.
func (d *Delivery) Advance(next DeliveryState) bool {
	if !d.State.Before(next) {
		return false
	}
	d.State = next
	return true
}

// AssignReference records the carrier's answer to a create-shipment call.
func (d *Delivery) AssignReference(referenceID, trackingNumber, courier string) {
	d.ReferenceID = referenceID
	if trackingNumber != "" {
		d.TrackingNumber = trackingNumber
	}
	if courier != "" {
		d.Courier = courier
	}
	d.Advance(StateReferenceAssigned)
}

// MarkLabelPrinted stores the label reference. Tracking state is left alone.
func (d *Delivery) MarkLabelPrinted(labelRef string, at time.Time) {
	d.LabelRef = labelRef
	d.LabelPrintedAt = &at
	d.Advance(StateLabelPrinted)
}

// Poll is one carrier tracking answer.
type Poll struct {
	Status         CarrierStatus
	Raw            string
	DeliveredAt    *time.Time
	TrackingNumber string
	CheckedAt      time.Time
}

// ApplyPoll folds a tracking answer into the record. A poll that would move the
// record backwards is rejected (regressed=true); only LastCheckedAt moves then.
// An UNKNOWN answer keeps the last known status and refreshes the raw text.
func (d *Delivery) ApplyPoll(p Poll) (regressed bool) {
	checked := p.CheckedAt
	d.LastCheckedAt = &checked

	if p.Status == CarrierUnknown || p.Status == "" {
		if p.Raw != "" {
			d.StatusRaw = p.Raw
		}
		return false
	}
	if p.Status.rank() < d.Status.rank() {
		return true
	}
	if target, ok := p.Status.State(); ok && target.Before(d.State) {
		return true
	}
	if d.State == StateDelivered && p.Status != CarrierDelivered {
		return true
	}

	d.Status = p.Status
	d.StatusRaw = p.Raw
	if p.DeliveredAt != nil {
		d.DeliveredAt = p.DeliveredAt
	}
	if p.TrackingNumber != "" && d.TrackingNumber == "" {
		d.TrackingNumber = p.TrackingNumber
	}
	if target, ok := p.Status.State(); ok {
		if d.DispatchedAt == nil {
			d.DispatchedAt = &checked
		}
		d.Advance(target)
	}
	return false
}
