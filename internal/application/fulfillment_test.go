package application

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petportre/orders-service/internal/carrier"
	"github.com/petportre/orders-service/internal/domain"
	"github.com/petportre/orders-service/internal/storage"
)

func newFulfillment(f *fixture, labels storage.LabelStore) *FulfillmentService {
	svc := NewFulfillmentService(f.orders, f.carrier, labels, "MNG Kargo")
	svc.now = func() time.Time { return time.Date(2025, 9, 2, 8, 0, 0, 0, time.UTC) }
	return svc
}

func TestFulfillment_CreateShipmentOnce(t *testing.T) {
	f := newFixture()
	f.seed(t, "1001", "a@b.com")
	f.carrier.shipment = func(o domain.Order) (carrier.Shipment, error) {
		assert.Equal(t, "1001", o.OrderNumber)
		return carrier.Shipment{ReferenceID: "MNG-77", TrackingNumber: "TR77"}, nil
	}
	svc := newFulfillment(f, nil)

	res, err := svc.CreateShipment(t.Context(), ShipmentRequest{OrderNumber: "1001"})
	require.NoError(t, err)
	assert.Equal(t, ShipmentResult{OrderNumber: "1001", ReferenceID: "MNG-77", TrackingNumber: "TR77"}, res)

	res, err = svc.CreateShipment(t.Context(), ShipmentRequest{Channel: "wix", OrderNumber: "1001"})
	require.NoError(t, err)
	assert.True(t, res.Existing)
	assert.Equal(t, "MNG-77", res.ReferenceID)
	assert.Equal(t, 1, f.carrier.count("create"))

	stored, err := f.repo.Get(t.Context(), domain.OrderKey{Channel: "wix", OrderNumber: "1001"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateReferenceAssigned, stored.Delivery.State)
	assert.Equal(t, "WIX1001", stored.Delivery.ReferenceIDPlaceholder)
	assert.Equal(t, "MNG Kargo", stored.Delivery.Courier)
	assert.Contains(t, f.events.types(), EventDeliveryUpdated)
}

func TestFulfillment_StaleInstanceSeesStoredProgress(t *testing.T) {
	ctx := t.Context()
	f := newFixture()
	f.seed(t, "1010", "a@b.com")
	f.carrier.shipment = func(domain.Order) (carrier.Shipment, error) {
		return carrier.Shipment{ReferenceID: "MNG-10", TrackingNumber: "TR10"}, nil
	}
	f.carrier.status = func(carrier.Query) (carrier.Status, error) {
		return carrier.Status{Code: domain.CarrierDelivered, Raw: "TESLİM EDİLDİ"}, nil
	}

	// a second instance caches the order before the first one moves it on
	other := NewOrdersService(f.repo, nil)
	_, err := other.Find(ctx, "wix", "1010")
	require.NoError(t, err)

	svc := newFulfillment(f, nil)
	_, err = svc.CreateShipment(ctx, ShipmentRequest{Channel: "wix", OrderNumber: "1010"})
	require.NoError(t, err)
	_, err = svc.Track(ctx, TrackRequest{OrderNumber: "1010"})
	require.NoError(t, err)

	stale := NewFulfillmentService(other, f.carrier, nil, "MNG Kargo")
	res, err := stale.CreateShipment(ctx, ShipmentRequest{Channel: "wix", OrderNumber: "1010"})
	require.NoError(t, err)
	assert.True(t, res.Existing)
	assert.Equal(t, "MNG-10", res.ReferenceID)
	assert.Equal(t, 1, f.carrier.count("create"))

	stored, err := f.repo.Get(ctx, domain.OrderKey{Channel: "wix", OrderNumber: "1010"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDelivered, stored.Delivery.State)
	assert.Equal(t, domain.CarrierDelivered, stored.Delivery.Status)
}

func TestFulfillment_CreateShipmentFailureLeavesRecord(t *testing.T) {
	f := newFixture()
	before := f.seed(t, "1002", "a@b.com")
	f.carrier.shipment = func(domain.Order) (carrier.Shipment, error) {
		return carrier.Shipment{}, unavailable("create shipment")
	}
	svc := newFulfillment(f, nil)

	_, err := svc.CreateShipment(t.Context(), ShipmentRequest{OrderNumber: "1002"})
	require.ErrorIs(t, err, domain.ErrCarrierUnavailable)

	after, err := f.repo.Get(t.Context(), before.Key())
	require.NoError(t, err)
	assert.Equal(t, before.Delivery, after.Delivery)
}

func TestFulfillment_CreateShipmentUnknownOrder(t *testing.T) {
	f := newFixture()
	svc := newFulfillment(f, nil)

	_, err := svc.CreateShipment(t.Context(), ShipmentRequest{OrderNumber: "404"})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, f.carrier.count("create"))
}

func TestFulfillment_LabelBeforeShipment(t *testing.T) {
	f := newFixture()
	f.seed(t, "1003", "a@b.com")
	svc := newFulfillment(f, nil)

	_, err := svc.FetchLabel(t.Context(), LabelRequest{OrderNumber: "1003"})
	require.ErrorIs(t, err, domain.ErrShipmentNotCreated)

	// the placeholder is not an official reference either
	_, err = svc.FetchLabel(t.Context(), LabelRequest{ReferenceID: "WIX1003"})
	require.ErrorIs(t, err, domain.ErrShipmentNotCreated)
	assert.Zero(t, f.carrier.count("label"))
}

func TestFulfillment_LabelPrinted(t *testing.T) {
	f := newFixture()
	o := f.seed(t, "1004", "a@b.com")
	d := o.Delivery
	d.AssignReference("MNG-4", "TR4", "MNG Kargo")
	f.setDelivery(t, o, d)

	pdf := []byte("%PDF-1.4 label")
	f.carrier.label = func(ref string) (carrier.Label, error) {
		assert.Equal(t, "MNG-4", ref)
		return carrier.Label{
			Base64:      base64.StdEncoding.EncodeToString(pdf),
			ContentType: "application/pdf",
			FileName:    "MNG-4.pdf",
		}, nil
	}
	labels := storage.NewMemoryLabelStore()
	svc := newFulfillment(f, labels)

	res, err := svc.FetchLabel(t.Context(), LabelRequest{ReferenceID: "MNG-4"})
	require.NoError(t, err)
	assert.Equal(t, "1004", res.OrderNumber)
	assert.Equal(t, "MNG-4.pdf", res.FileName)
	require.NotEmpty(t, res.LabelRef)

	blob, ok := labels.Load(res.LabelRef)
	require.True(t, ok)
	assert.Equal(t, pdf, blob)

	stored, err := f.repo.Get(t.Context(), o.Key())
	require.NoError(t, err)
	assert.Equal(t, domain.StateLabelPrinted, stored.Delivery.State)
	assert.Equal(t, res.LabelRef, stored.Delivery.LabelRef)
	require.NotNil(t, stored.Delivery.LabelPrintedAt)
}

func TestFulfillment_LabelForForeignReference(t *testing.T) {
	f := newFixture()
	f.carrier.label = func(ref string) (carrier.Label, error) {
		return carrier.Label{Base64: "AAAA", ContentType: "application/pdf", FileName: ref + ".pdf"}, nil
	}
	svc := newFulfillment(f, nil)

	res, err := svc.FetchLabel(t.Context(), LabelRequest{ReferenceID: "EXT-1"})
	require.NoError(t, err)
	assert.Empty(t, res.OrderNumber)
	assert.Equal(t, "EXT-1.pdf", res.FileName)
}

func TestFulfillment_TrackAdvances(t *testing.T) {
	f := newFixture()
	o := f.seed(t, "1005", "a@b.com")
	d := o.Delivery
	d.AssignReference("MNG-5", "TR5", "MNG Kargo")
	f.setDelivery(t, o, d)

	deliveredAt := time.Date(2025, 9, 3, 11, 20, 0, 0, time.UTC)
	f.carrier.status = func(q carrier.Query) (carrier.Status, error) {
		assert.Equal(t, "TR5", q.TrackingNumber)
		assert.Equal(t, "MNG-5", q.ReferenceID)
		return carrier.Status{Code: domain.CarrierDelivered, Raw: "TESLİM EDİLDİ", DeliveredAt: &deliveredAt}, nil
	}
	svc := newFulfillment(f, nil)

	res, err := svc.Track(t.Context(), TrackRequest{OrderNumber: "1005"})
	require.NoError(t, err)
	assert.Equal(t, domain.CarrierDelivered, res.Status)
	assert.Equal(t, domain.StateDelivered, res.State)
	assert.Equal(t, &deliveredAt, res.DeliveredAt)
	assert.Equal(t, "TR5", res.TrackingNumber)

	stored, err := f.repo.Get(t.Context(), o.Key())
	require.NoError(t, err)
	assert.Equal(t, domain.StateDelivered, stored.Delivery.State)
	require.NotNil(t, stored.Delivery.LastCheckedAt)
}

func TestFulfillment_TrackNeverMovesBackwards(t *testing.T) {
	f := newFixture()
	o := f.seed(t, "1006", "a@b.com")
	d := o.Delivery
	d.AssignReference("MNG-6", "TR6", "MNG Kargo")
	d.ApplyPoll(domain.Poll{Status: domain.CarrierDelivered, Raw: "TESLİM EDİLDİ", CheckedAt: time.Now()})
	f.setDelivery(t, o, d)

	f.carrier.status = func(carrier.Query) (carrier.Status, error) {
		return carrier.Status{Code: domain.CarrierInTransit, Raw: "YOLDA"}, nil
	}
	svc := newFulfillment(f, nil)

	res, err := svc.Track(t.Context(), TrackRequest{TrackingNumber: "TR6"})
	require.NoError(t, err)
	assert.True(t, res.Regressed)
	assert.Equal(t, domain.StateDelivered, res.State)
	assert.Equal(t, domain.CarrierDelivered, res.Status)

	stored, err := f.repo.Get(t.Context(), o.Key())
	require.NoError(t, err)
	assert.Equal(t, domain.StateDelivered, stored.Delivery.State)
	assert.Equal(t, "TESLİM EDİLDİ", stored.Delivery.StatusRaw)
}

func TestFulfillment_TrackFailure(t *testing.T) {
	tests := []struct {
		name  string
		state domain.DeliveryState
		want  domain.DeliveryState
	}{
		{name: "unresolved record becomes unknown", state: domain.StateNew, want: domain.StateUnknown},
		{name: "resolved record is untouched", state: domain.StateReferenceAssigned, want: domain.StateReferenceAssigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			o := f.seed(t, "1007", "a@b.com")
			d := o.Delivery
			d.State = tt.state
			d.TrackingNumber = "TR7"
			f.setDelivery(t, o, d)

			f.carrier.status = func(carrier.Query) (carrier.Status, error) {
				return carrier.Status{}, unavailable("query status")
			}
			svc := newFulfillment(f, nil)

			_, err := svc.Track(t.Context(), TrackRequest{OrderNumber: "1007"})
			require.ErrorIs(t, err, domain.ErrCarrierUnavailable)

			stored, err := f.repo.Get(t.Context(), o.Key())
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.Delivery.State)
		})
	}
}

func TestFulfillment_TrackWithoutIdentifiers(t *testing.T) {
	f := newFixture()
	f.seed(t, "1008", "a@b.com")
	svc := newFulfillment(f, nil)

	res, err := svc.Track(t.Context(), TrackRequest{OrderNumber: "1008"})
	require.NoError(t, err)
	assert.Equal(t, domain.CarrierUnknown, res.Status)
	assert.Equal(t, domain.StateReferencePlaceholder, res.State)
	assert.Zero(t, f.carrier.count("status"))
}

func TestFulfillment_TrackUnknownTrackingNumber(t *testing.T) {
	f := newFixture()
	f.carrier.status = func(q carrier.Query) (carrier.Status, error) {
		return carrier.Status{Code: domain.CarrierInTransit, Raw: "TRANSFER"}, nil
	}
	svc := newFulfillment(f, nil)

	res, err := svc.Track(t.Context(), TrackRequest{TrackingNumber: "TR-X"})
	require.NoError(t, err)
	assert.Equal(t, domain.CarrierInTransit, res.Status)
	assert.Empty(t, res.OrderNumber)
	assert.Equal(t, "TR-X", res.TrackingNumber)
}

func TestFulfillment_NoCarrierConfigured(t *testing.T) {
	f := newFixture()
	o := f.seed(t, "1009", "a@b.com")
	d := o.Delivery
	d.TrackingNumber = "TR9"
	f.setDelivery(t, o, d)
	svc := NewFulfillmentService(f.orders, nil, nil, "")

	_, err := svc.CreateShipment(t.Context(), ShipmentRequest{OrderNumber: "1009"})
	assert.ErrorIs(t, err, domain.ErrCarrierUnavailable)
	_, err = svc.Track(t.Context(), TrackRequest{OrderNumber: "1009"})
	assert.ErrorIs(t, err, domain.ErrCarrierUnavailable)
}
