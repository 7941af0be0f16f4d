// Package analysis defines the contract with the external AI image
// analysis collaborator. The subsystem only consumes its output to
// pre-populate a record before it is handed to the synchronization engine;
// the collaborator plays no part in sync logic.
package analysis

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/jackzsps/Best-Version-of-Yourself-sub000/internal/models"
)

// Range is an ambiguous AI estimate. Lo and Hi may be equal when the model
// is confident.
type Range struct {
	Lo decimal.Decimal `json:"lo"`
	Hi decimal.Decimal `json:"hi"`
}

// Resolve turns the range into a concrete value using the given recording
// mode: max-of-range or min-of-range. Unknown modes fall back to the
// maximum, matching the default save behavior.
func (r Range) Resolve(mode models.RecordingMode) decimal.Decimal {
	if mode == models.RecordingModeMin {
		return r.Lo
	}
	return r.Hi
}

// Guess is the structured nutrition/expense estimate produced from an
// image.
type Guess struct {
	Category string `json:"category"`
	Amount   Range  `json:"amount"`
	Calories Range  `json:"calories"`
	Protein  Range  `json:"protein"`
	Carbs    Range  `json:"carbs"`
	Fat      Range  `json:"fat"`
}

// Analyzer is the opaque image-classification function: bytes plus a
// language hint in, a structured guess out.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, language string) (*Guess, error)
}
