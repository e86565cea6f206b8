package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Proration controls how the provider bills a mid-period change.
type Proration string

const (
	ProrationNone          Proration = "none"
	ProrationAlwaysInvoice Proration = "always_invoice"
	ProrationCreate        Proration = "create_prorations"
)

// EndBehavior controls what happens to a schedule after its last phase.
type EndBehavior string

const (
	EndBehaviorRelease EndBehavior = "release"
	EndBehaviorCancel  EndBehavior = "cancel"
)

// PriceRef points at a price that the provider returned either as a bare
// identifier or as an embedded object.
type PriceRef struct {
	id    string
	price *Price
}

// PriceByID references a price by identifier only.
func PriceByID(id string) PriceRef {
	return PriceRef{id: id}
}

// EmbeddedPrice references a fully populated price.
func EmbeddedPrice(p Price) PriceRef {
	return PriceRef{id: p.ID, price: &p}
}

// ID returns the price identifier regardless of representation.
func (r PriceRef) ID() string {
	return r.id
}

// Price returns the embedded price, if the provider sent one.
func (r PriceRef) Price() (Price, bool) {
	if r.price == nil {
		return Price{}, false
	}
	return *r.price, true
}

// IsZero reports whether the reference carries no identifier.
func (r PriceRef) IsZero() bool {
	return r.id == ""
}

// UnmarshalJSON accepts "price_x" as well as {"id": "price_x", ...}.
func (r *PriceRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = PriceRef{}
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = PriceByID(id)
		return nil
	}

	var p Price
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("price reference: %w", err)
	}
	*r = EmbeddedPrice(p)
	return nil
}

// MarshalJSON always emits the identifier form.
func (r PriceRef) MarshalJSON() ([]byte, error) {
	if r.id == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.id)
}

// PhaseItem is one priced line of a schedule phase.
type PhaseItem struct {
	Price    PriceRef `json:"price"`
	Quantity int64    `json:"quantity"`
}

// Phase is one segment of a subscription schedule. A zero End means the
// phase runs for a single billing cycle before the end behavior applies.
type Phase struct {
	Items     []PhaseItem `json:"items"`
	Start     time.Time   `json:"start"`
	End       time.Time   `json:"end,omitzero"`
	Proration Proration   `json:"proration"`
}

// Schedule is a provider-side sequence of phases attached to a subscription.
type Schedule struct {
	ID             string      `json:"id"`
	SubscriptionID string      `json:"subscription_id"`
	Status         string      `json:"status"`
	EndBehavior    EndBehavior `json:"end_behavior"`
	Phases         []Phase     `json:"phases"`
}

// CurrentPhase returns the latest phase that started at or before now,
// or the last phase when every phase lies in the future.
func (s Schedule) CurrentPhase(now time.Time) (Phase, error) {
	if len(s.Phases) == 0 {
		return Phase{}, fmt.Errorf("%w: schedule %s has no phases", ErrInconsistentSchedule, s.ID)
	}
	for i := len(s.Phases) - 1; i >= 0; i-- {
		if !s.Phases[i].Start.After(now) {
			return s.Phases[i], nil
		}
	}
	return s.Phases[len(s.Phases)-1], nil
}

// PhaseStartingAt returns the phase beginning exactly at t.
func (s Schedule) PhaseStartingAt(t time.Time) (Phase, bool) {
	for _, p := range s.Phases {
		if p.Start.Equal(t) {
			return p, true
		}
	}
	return Phase{}, false
}

// copyItems returns the phase items normalized to identifier references.
// Any item without a price or with a non-positive quantity makes the whole
// phase unusable; partial copies would change what the customer pays.
func (p Phase) copyItems() ([]PhaseItem, error) {
	if len(p.Items) == 0 {
		return nil, fmt.Errorf("%w: phase starting %s has no items", ErrInconsistentSchedule, p.Start.UTC().Format(time.RFC3339))
	}
	items := make([]PhaseItem, 0, len(p.Items))
	for i, it := range p.Items {
		if it.Price.IsZero() {
			return nil, fmt.Errorf("%w: item %d has no price", ErrInconsistentSchedule, i)
		}
		if it.Quantity < 1 {
			return nil, fmt.Errorf("%w: item %d has quantity %d", ErrInconsistentSchedule, i, it.Quantity)
		}
		items = append(items, PhaseItem{Price: PriceByID(it.Price.ID()), Quantity: it.Quantity})
	}
	return items, nil
}

// DowngradePhases builds the two-phase sequence that keeps the current
// items until periodEnd and switches to priceID from then on.
func DowngradePhases(current Phase, periodEnd time.Time, priceID string) ([]Phase, error) {
	if periodEnd.IsZero() {
		return nil, fmt.Errorf("%w: missing current period end", ErrInconsistentSchedule)
	}
	if !current.Start.Before(periodEnd) {
		return nil, fmt.Errorf("%w: current phase starts at or after period end", ErrInconsistentSchedule)
	}
	items, err := current.copyItems()
	if err != nil {
		return nil, err
	}

	return []Phase{
		{
			Items:     items,
			Start:     current.Start,
			End:       periodEnd,
			Proration: ProrationNone,
		},
		{
			Items:     []PhaseItem{{Price: PriceByID(priceID), Quantity: 1}},
			Start:     periodEnd,
			Proration: ProrationNone,
		},
	}, nil
}
