// Package families holds the typed family record read by the distribution gate, together with
// the registration and approval boundary that owns its status and active flag.
package families

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrFamilyNotFound indicates the family does not exist.
	ErrFamilyNotFound = errors.New("families: family not found")
	// ErrDuplicateCPF indicates another family is registered with the same CPF.
	ErrDuplicateCPF = errors.New("families: cpf already registered")
	// ErrInvalidStatus indicates a status filter outside PENDING, APPROVED and REJECTED.
	ErrInvalidStatus = errors.New("families: invalid status")
)

// Status is the approval state of a family.
type Status string

const (
	// StatusPending is the initial status.
	StatusPending Status = "PENDING"
	// StatusApproved allows deliveries.
	StatusApproved Status = "APPROVED"
	// StatusRejected blocks deliveries.
	StatusRejected Status = "REJECTED"
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// NormalizeStatus coerces free-form input into a Status. Unknown values become PENDING.
func NormalizeStatus(raw string) Status {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return StatusPending
	}
	return s
}

// Address is the postal address of a family.
type Address struct {
	CEP          string `json:"cep"`
	Street       string `json:"street"`
	Number       string `json:"number"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
}

// Family is a registered household.
type Family struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	ResponsibleName string     `json:"responsible_name,omitempty"`
	CPF             string     `json:"cpf"`
	Phone           string     `json:"phone"`
	Members         int        `json:"members"`
	Address         Address    `json:"address"`
	Status          Status     `json:"status"`
	Active          bool       `json:"active"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovedBy      *string    `json:"approved_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// RegisterInput is the validated registration form.
type RegisterInput struct {
	Name            string `json:"name" validate:"required,max=160"`
	ResponsibleName string `json:"responsible_name" validate:"max=160"`
	CPF             string `json:"cpf" validate:"required,cpf"`
	Phone           string `json:"phone" validate:"required,phone"`
	Members         int    `json:"members" validate:"min=1,max=50"`
	CEP             string `json:"cep" validate:"required,cep"`
	Street          string `json:"street" validate:"required,max=200"`
	Number          string `json:"number" validate:"required,max=20"`
	Complement      string `json:"complement" validate:"max=100"`
	Neighborhood    string `json:"neighborhood" validate:"required,max=120"`
	City            string `json:"city" validate:"required,max=120"`
	State           string `json:"state" validate:"required,max=40"`
}

// ListFilter narrows family listings.
type ListFilter struct {
	Status Status
	Limit  int
}

// ApplyStatus sets the status and its approval bookkeeping. Approval re-activates the family.
func (f *Family) ApplyStatus(status Status, actorID string, at time.Time) {
	f.Status = status
	f.UpdatedAt = at
	if status == StatusApproved {
		approvedAt := at
		f.ApprovedAt = &approvedAt
		f.ApprovedBy = &actorID
		f.Active = true
		return
	}
	f.ApprovedAt = nil
	f.ApprovedBy = nil
}

// Digits strips every non-digit rune.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
