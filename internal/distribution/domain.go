// Package distribution gates basket deliveries to one per family per calendar month and
// reverses deliveries without touching the raw supplies consumed by assembly.
package distribution

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cesta-solidaria/cesta/internal/families"
	"github.com/cesta-solidaria/cesta/internal/ready"
)

var (
	// ErrFamilyInactive indicates the family is deactivated.
	ErrFamilyInactive = errors.New("distribution: family inactive")
	// ErrFamilyNotApproved indicates the family is not APPROVED.
	ErrFamilyNotApproved = errors.New("distribution: family not approved")
	// ErrNoBasketsReady indicates no assembled basket is available.
	ErrNoBasketsReady = ready.ErrNoBasketsReady
	// ErrAlreadyDeliveredThisMonth indicates an active delivery exists in the current month.
	ErrAlreadyDeliveredThisMonth = errors.New("distribution: family already received a basket this month")
	// ErrDeliveryNotFound indicates the delivery does not exist.
	ErrDeliveryNotFound = errors.New("distribution: delivery not found")
	// ErrDeliveryAlreadyReversed indicates the delivery was reversed before.
	ErrDeliveryAlreadyReversed = errors.New("distribution: delivery already reversed")
	// ErrFamilyNotFound indicates the family does not exist.
	ErrFamilyNotFound = families.ErrFamilyNotFound
)

// State is the lifecycle state of a delivery.
type State string

const (
	// StateActive is the initial state and counts toward monthly eligibility.
	StateActive State = "ACTIVE"
	// StateReversed is terminal.
	StateReversed State = "REVERSED"
)

// Delivery is one basket handed to one family.
type Delivery struct {
	ID           uuid.UUID  `json:"id"`
	FamilyID     uuid.UUID  `json:"family_id"`
	DeliveredAt  time.Time  `json:"delivered_at"`
	Month        time.Time  `json:"month"`
	Note         string     `json:"note,omitempty"`
	ActorID      string     `json:"actor_id,omitempty"`
	ReversedAt   *time.Time `json:"reversed_at,omitempty"`
	ReversedNote *string    `json:"reversed_note,omitempty"`
	ReversedBy   *string    `json:"reversed_by,omitempty"`
}

// State reports whether the delivery is active or reversed.
func (d Delivery) State() State {
	if d.ReversedAt != nil {
		return StateReversed
	}
	return StateActive
}

// IsActive reports whether the delivery still counts toward its month.
func (d Delivery) IsActive() bool {
	return d.State() == StateActive
}

// Eligibility is the display result of the gate for one family.
type Eligibility struct {
	FamilyID uuid.UUID `json:"family_id"`
	Eligible bool      `json:"eligible"`
	Reason   string    `json:"reason,omitempty"`
	Message  string    `json:"message,omitempty"`
	Ready    int64     `json:"ready"`
	Current  *Delivery `json:"current,omitempty"`
}

// Check runs the gate checks in order and returns the first failure.
func Check(f families.Family, readyQty int64, current *Delivery) error {
	if !f.Active {
		return ErrFamilyInactive
	}
	if f.Status != families.StatusApproved {
		return ErrFamilyNotApproved
	}
	if readyQty < 1 {
		return ErrNoBasketsReady
	}
	if current != nil && current.IsActive() {
		return ErrAlreadyDeliveredThisMonth
	}
	return nil
}

var rejectionCodes = []struct {
	err  error
	code string
}{
	{ErrFamilyInactive, "FAMILY_INACTIVE"},
	{ErrFamilyNotApproved, "FAMILY_NOT_APPROVED"},
	{ErrNoBasketsReady, "NO_BASKETS_READY"},
	{ErrAlreadyDeliveredThisMonth, "ALREADY_DELIVERED_THIS_MONTH"},
	{ErrDeliveryNotFound, "DELIVERY_NOT_FOUND"},
	{ErrDeliveryAlreadyReversed, "DELIVERY_ALREADY_REVERSED"},
	{ErrFamilyNotFound, "FAMILY_NOT_FOUND"},
}

// RejectionCode returns the stable code of a business-rule error, or "" for other errors.
func RejectionCode(err error) string {
	for _, rc := range rejectionCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return ""
}
