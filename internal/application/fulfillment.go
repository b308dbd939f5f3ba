package application

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/samber/lo"

	"github.com/petportre/orders-service/internal/carrier"
	"github.com/petportre/orders-service/internal/domain"
	"github.com/petportre/orders-service/internal/logger"
	"github.com/petportre/orders-service/internal/storage"
)

// Carrier is the subset of the carrier client the fulfillment flow needs.
type Carrier interface {
	CreateShipment(ctx context.Context, o domain.Order) (carrier.Shipment, error)
	FetchLabel(ctx context.Context, ref, format, paperSize string) (carrier.Label, error)
	QueryStatus(ctx context.Context, q carrier.Query) (carrier.Status, error)
}

// FulfillmentService drives an order through the carrier lifecycle.
type FulfillmentService struct {
	orders  *OrdersService
	carrier Carrier
	labels  storage.LabelStore
	courier string
	now     func() time.Time
}

func NewFulfillmentService(orders *OrdersService, c Carrier, labels storage.LabelStore, courier string) *FulfillmentService {
	return &FulfillmentService{
		orders:  orders,
		carrier: c,
		labels:  labels,
		courier: courier,
		now:     time.Now,
	}
}

type ShipmentRequest struct {
	Channel     string
	OrderNumber string
}

type ShipmentResult struct {
	OrderNumber    string `json:"orderNumber"`
	ReferenceID    string `json:"referenceId"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	Existing       bool   `json:"existing"`
}

// CreateShipment asks the carrier for an official reference. An order that
// already has one is answered from the store without calling the carrier. On
// failure the stored record is left as it was.
func (f *FulfillmentService) CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResult, error) {
	log := logger.FromContext(ctx)

	o, err := f.orders.load(ctx, req.Channel, req.OrderNumber)
	if err != nil {
		return ShipmentResult{}, err
	}
	if o.Delivery.HasOfficialReference() {
		return ShipmentResult{
			OrderNumber:    o.OrderNumber,
			ReferenceID:    o.Delivery.ReferenceID,
			TrackingNumber: o.Delivery.TrackingNumber,
			Existing:       true,
		}, nil
	}
	if f.carrier == nil {
		return ShipmentResult{}, &domain.CarrierUnavailableError{Op: "create shipment"}
	}

	shipment, err := f.carrier.CreateShipment(ctx, *o)
	if err != nil {
		log.Warnw("create shipment failed", "order", o.Key().String(), "err", err)
		return ShipmentResult{}, err
	}

	d := o.Delivery
	if d.ReferenceIDPlaceholder == "" {
		d.ReferenceIDPlaceholder = domain.PlaceholderReference(o.Channel, o.OrderNumber)
	}
	d.AssignReference(shipment.ReferenceID, shipment.TrackingNumber, f.courier)
	if err := f.orders.UpdateDelivery(ctx, o, d); err != nil {
		return ShipmentResult{}, err
	}
	log.Infow("shipment created", "order", o.Key().String(), "reference", d.ReferenceID, "tracking", d.TrackingNumber)

	return ShipmentResult{
		OrderNumber:    o.OrderNumber,
		ReferenceID:    d.ReferenceID,
		TrackingNumber: d.TrackingNumber,
	}, nil
}

type LabelRequest struct {
	OrderNumber string
	ReferenceID string
	Format      string
	PaperSize   string
}

type LabelResult struct {
	OrderNumber string `json:"orderNumber,omitempty"`
	ReferenceID string `json:"referenceId"`
	Base64      string `json:"base64"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	LabelRef    string `json:"labelRef,omitempty"`
}

// FetchLabel downloads the label for an official reference, stores the blob
// and raises the order to at least LABEL_PRINTED. A reference the store does
// not know is still printed, but nothing is recorded.
func (f *FulfillmentService) FetchLabel(ctx context.Context, req LabelRequest) (LabelResult, error) {
	log := logger.FromContext(ctx)

	o, ref, err := f.labelTarget(ctx, req)
	if err != nil {
		return LabelResult{}, err
	}
	if f.carrier == nil {
		return LabelResult{}, &domain.CarrierUnavailableError{Op: "fetch label"}
	}

	label, err := f.carrier.FetchLabel(ctx, ref, req.Format, req.PaperSize)
	if err != nil {
		return LabelResult{}, err
	}
	res := LabelResult{
		ReferenceID: ref,
		Base64:      label.Base64,
		FileName:    label.FileName,
		ContentType: label.ContentType,
	}
	res.LabelRef = f.storeLabel(ctx, label)

	if o == nil {
		return res, nil
	}
	res.OrderNumber = o.OrderNumber
	d := o.Delivery
	d.MarkLabelPrinted(res.LabelRef, f.now().UTC())
	if err := f.orders.UpdateDelivery(ctx, o, d); err != nil {
		return LabelResult{}, err
	}
	log.Infow("label printed", "order", o.Key().String(), "reference", ref, "label", res.LabelRef)
	return res, nil
}

func (f *FulfillmentService) labelTarget(ctx context.Context, req LabelRequest) (*domain.Order, string, error) {
	var (
		o   *domain.Order
		err error
	)
	switch {
	case req.ReferenceID != "":
		o, err = f.orders.FindByReference(ctx, req.ReferenceID)
		if isNotFound(err) {
			return nil, req.ReferenceID, nil
		}
	case req.OrderNumber != "":
		o, err = f.orders.load(ctx, "", req.OrderNumber)
	default:
		return nil, "", domain.ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	if !o.Delivery.HasOfficialReference() {
		return nil, "", domain.ErrShipmentNotCreated
	}
	return o, o.Delivery.ReferenceID, nil
}

func (f *FulfillmentService) storeLabel(ctx context.Context, label carrier.Label) string {
	if f.labels == nil {
		return ""
	}
	blob, err := base64.StdEncoding.DecodeString(label.Base64)
	if err != nil {
		logger.FromContext(ctx).Warnw("label is not valid base64, not stored", "file", label.FileName, "err", err)
		return ""
	}
	ref, err := f.labels.Save(ctx, label.FileName, blob, label.ContentType)
	if err != nil {
		logger.FromContext(ctx).Warnw("label not stored", "file", label.FileName, "err", err)
		return ""
	}
	return ref
}

type TrackRequest struct {
	TrackingNumber string
	ReferenceID    string
	OrderNumber    string
}

type TrackResult struct {
	OrderNumber    string               `json:"orderNumber,omitempty"`
	Status         domain.CarrierStatus `json:"status"`
	StatusRaw      string               `json:"statusRaw,omitempty"`
	State          domain.DeliveryState `json:"state,omitempty"`
	DeliveredAt    *time.Time           `json:"deliveredAt"`
	TrackingNumber string               `json:"trackingNumber,omitempty"`
	Regressed      bool                 `json:"-"`
}

// Track polls the carrier and folds the answer into the order. The record
// never moves backwards: an older status is logged and ignored.
func (f *FulfillmentService) Track(ctx context.Context, req TrackRequest) (TrackResult, error) {
	log := logger.FromContext(ctx)

	o, err := f.trackTarget(ctx, req)
	if err != nil {
		return TrackResult{}, err
	}

	q := carrier.Query{TrackingNumber: req.TrackingNumber, ReferenceID: req.ReferenceID}
	if o != nil {
		if q.TrackingNumber == "" {
			q.TrackingNumber = o.Delivery.TrackingNumber
		}
		if q.ReferenceID == "" {
			q.ReferenceID = o.Delivery.ReferenceID
		}
	}
	if q.TrackingNumber == "" && q.ReferenceID == "" {
		res := TrackResult{Status: domain.CarrierUnknown}
		if o != nil {
			res.OrderNumber = o.OrderNumber
			res.State = o.Delivery.State
		}
		return res, nil
	}
	if f.carrier == nil {
		return TrackResult{}, &domain.CarrierUnavailableError{Op: "query status"}
	}

	st, err := f.carrier.QueryStatus(ctx, q)
	if err != nil {
		if o != nil && !o.Delivery.State.Resolvable() {
			d := o.Delivery
			d.State = domain.StateUnknown
			if uerr := f.orders.UpdateDelivery(ctx, o, d); uerr != nil {
				log.Warnw("delivery state not saved", "order", o.Key().String(), "err", uerr)
			}
		}
		return TrackResult{}, err
	}

	res := TrackResult{
		Status:         st.Code,
		StatusRaw:      st.Raw,
		DeliveredAt:    st.DeliveredAt,
		TrackingNumber: lo.CoalesceOrEmpty(st.TrackingNumber, q.TrackingNumber),
	}
	if o == nil {
		return res, nil
	}

	d := o.Delivery
	res.Regressed = d.ApplyPoll(domain.Poll{
		Status:         st.Code,
		Raw:            st.Raw,
		DeliveredAt:    st.DeliveredAt,
		TrackingNumber: st.TrackingNumber,
		CheckedAt:      f.now().UTC(),
	})
	if res.Regressed {
		log.Warnw("carrier status regression ignored",
			"order", o.Key().String(), "stored", d.Status, "polled", st.Code)
	}
	if err := f.orders.UpdateDelivery(ctx, o, d); err != nil {
		return TrackResult{}, err
	}

	res.OrderNumber = o.OrderNumber
	res.State = d.State
	res.Status = lo.CoalesceOrEmpty(d.Status, st.Code)
	res.DeliveredAt = d.DeliveredAt
	res.TrackingNumber = lo.CoalesceOrEmpty(d.TrackingNumber, res.TrackingNumber)
	return res, nil
}

func (f *FulfillmentService) trackTarget(ctx context.Context, req TrackRequest) (*domain.Order, error) {
	var (
		o   *domain.Order
		err error
	)
	switch {
	case req.OrderNumber != "":
		o, err = f.orders.load(ctx, "", req.OrderNumber)
	case req.ReferenceID != "":
		o, err = f.orders.FindByReference(ctx, req.ReferenceID)
	case req.TrackingNumber != "":
		o, err = f.orders.FindByReference(ctx, req.TrackingNumber)
	default:
		return nil, domain.ErrNotFound
	}
	if isNotFound(err) && req.OrderNumber == "" {
		// carrier identifiers the store does not know are still tracked
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}
