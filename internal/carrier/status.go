package carrier

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/petportre/orders-service/internal/domain"
)

// Keywords are written after fold(): lower case, dotless ı as i.
var (
	negativeKeywords = []string{
		"not delivered", "undelivered", "could not be delivered", "failed",
		"teslim edilemedi", "teslim edilmedi", "iade", "return",
	}
	statusKeywords = []struct {
		status   domain.CarrierStatus
		keywords []string
	}{
		{domain.CarrierDelivered, []string{"delivered", "teslim edildi", "alıcıya teslim", "aliciya teslim"}},
		{domain.CarrierOutForDelivery, []string{"out for delivery", "dağitimda", "dagitimda", "dağitima çikti", "dagitima cikti", "kuryede"}},
		{domain.CarrierInTransit, []string{"in transit", "transit", "yolda", "transfer", "aktarma", "şubede", "subede", "sevk", "kargoya verildi", "teslim alindi", "picked up", "shipped"}},
		{domain.CarrierCreated, []string{"created", "registered", "oluşturuldu", "olusturuldu", "kayit", "hazirlaniyor", "label"}},
	}
)

func fold(s string) string {
	s = cases.Fold().String(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "\u0307", "")
	return strings.ReplaceAll(s, "ı", "i")
}

// NormalizeStatus maps free-form carrier status text to the shared vocabulary.
// Negative phrases win over positive ones.
func NormalizeStatus(raw string) domain.CarrierStatus {
	s := fold(raw)
	if s == "" {
		return domain.CarrierUnknown
	}
	for _, k := range negativeKeywords {
		if strings.Contains(s, k) {
			return domain.CarrierUnknown
		}
	}
	for _, group := range statusKeywords {
		for _, k := range group.keywords {
			if strings.Contains(s, fold(k)) {
				return group.status
			}
		}
	}
	return domain.CarrierUnknown
}

// Carrier timestamps without an offset are Turkey local time.
var carrierZone = time.FixedZone("TRT", 3*60*60)

var carrierLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
	"2006-01-02",
}

func parseCarrierTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range carrierLayouts {
		if t, err := time.ParseInLocation(layout, s, carrierZone); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
