// Package models defines the record, snapshot and entitlement types shared
// by the cache, the stores and the synchronization engine.
package models

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Kind determines which of the financial/nutritional field groups of a
// Record are meaningful.
type Kind string

const (
	KindExpense  Kind = "expense"
	KindDiet     Kind = "diet"
	KindCombined Kind = "combined"
)

// RecordingMode is the policy that was used to resolve an ambiguous
// AI-estimated range into a concrete number at save time. It is stored for
// auditability and never re-derived.
type RecordingMode string

const (
	RecordingModeMax RecordingMode = "max"
	RecordingModeMin RecordingMode = "min"
)

// ImageRef points at a record's image. During creation Inline transiently
// holds the base64-encoded payload; after the first successful background
// sync it is replaced by URL, a stable object-store reference. At most one
// of the two is ever set.
type ImageRef struct {
	Inline string `json:"inline,omitempty"`
	URL    string `json:"url,omitempty"`
}

// IsInline reports whether the payload has not yet been hoisted to the
// object store.
func (r ImageRef) IsInline() bool { return r.Inline != "" }

// IsStored reports whether the image lives in the object store.
func (r ImageRef) IsStored() bool { return r.URL != "" }

// Record is the user-visible unit of tracking. Updates replace all fields
// except ID, which is immutable.
type Record struct {
	// ID is creation-ordered (decimal Unix-millis of creation time) and
	// unique within a user's collection.
	ID string `json:"id"`

	// ActivityDate is the logical day the record belongs to. The
	// time-of-day is normalized to a fixed hour (see NormalizeActivityDate)
	// to avoid timezone-boundary drift.
	ActivityDate time.Time `json:"activityDate"`

	Kind Kind `json:"kind"`

	Image *ImageRef `json:"image,omitempty"`

	// financial fields, zero when Kind is diet
	Amount        decimal.Decimal `json:"amount"`
	Category      string          `json:"category,omitempty"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	UsageClass    string          `json:"usageClass,omitempty"`

	// nutritional fields, zero when Kind is expense
	Calories float64 `json:"calories,omitempty"`
	Protein  float64 `json:"protein,omitempty"`
	Carbs    float64 `json:"carbs,omitempty"`
	Fat      float64 `json:"fat,omitempty"`

	RecordingMode RecordingMode `json:"recordingMode,omitempty"`
}

// Snapshot is a complete, self-consistent replacement of a collection's
// contents. PendingWrites is true when the snapshot was produced from local
// optimistic state that the server has not acknowledged yet.
type Snapshot struct {
	Records       []Record
	PendingWrites bool
}

// activityHour is the fixed hour-of-day activity dates are pinned to.
const activityHour = 12

// NewRecordID derives a creation-ordered identifier from the creation
// time. Identifiers of the same epoch have equal length, so lexicographic
// order matches creation order.
func NewRecordID(createdAt time.Time) string {
	return strconv.FormatInt(createdAt.UnixMilli(), 10)
}

// NormalizeActivityDate strips the time-of-day from t, pinning it to a
// fixed hour in UTC so the logical day survives timezone conversions.
func NormalizeActivityDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), activityHour, 0, 0, 0, time.UTC)
}

// Less reports whether a sorts before b in the canonical collection order:
// newest activity date first, ties broken by the greater (newer) id.
func Less(a, b Record) bool {
	if !a.ActivityDate.Equal(b.ActivityDate) {
		return a.ActivityDate.After(b.ActivityDate)
	}
	return a.ID > b.ID
}

// SortRecords sorts rs into the canonical order. The sort is stable so
// equal records keep their relative positions.
func SortRecords(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool { return Less(rs[i], rs[j]) })
}

// InsertSorted returns rs with r inserted at its canonical position.
func InsertSorted(rs []Record, r Record) []Record {
	i := sort.Search(len(rs), func(i int) bool { return Less(r, rs[i]) })
	rs = append(rs, Record{})
	copy(rs[i+1:], rs[i:])
	rs[i] = r
	return rs
}
