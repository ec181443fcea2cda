package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Roles a profile may carry.
const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
)

// UserProfile is stored at users/{id}; the users collection doubles as the
// account directory read by the aggregation views.
type UserProfile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName,omitempty"`
	LastName    string    `json:"lastName,omitempty"`
	CompanyName string    `json:"companyName,omitempty"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	Role        string    `json:"role,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (p UserProfile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// DisplayName prefers the profile names and falls back to the email local part.
func (p UserProfile) DisplayName() string {
	name := p.FirstName
	if p.LastName != "" {
		if name != "" {
			name += " "
		}
		name += p.LastName
	}
	if name != "" {
		return name
	}
	for i, r := range p.Email {
		if r == '@' {
			return p.Email[:i]
		}
	}
	if p.Email != "" {
		return p.Email
	}
	return "User"
}

type IncomeRecord struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Amount          decimal.Decimal `json:"amount"`
	Date            string          `json:"date"`
	Description     string          `json:"description"`
	Category        string          `json:"category,omitempty"`
	PaymentMethod   string          `json:"paymentMethod,omitempty"`
	ReferenceNumber string          `json:"referenceNumber,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (r IncomeRecord) RecordID() string { return r.ID }
func (r IncomeRecord) OwnerID() string  { return r.UserID }

type ExpenseRecord struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Amount          decimal.Decimal `json:"amount"`
	Date            string          `json:"date"`
	Description     string          `json:"description"`
	Category        string          `json:"category,omitempty"`
	PaymentMethod   string          `json:"paymentMethod,omitempty"`
	Vendor          string          `json:"vendor,omitempty"`
	ReferenceNumber string          `json:"referenceNumber,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (r ExpenseRecord) RecordID() string { return r.ID }
func (r ExpenseRecord) OwnerID() string  { return r.UserID }

type Appointment struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (a Appointment) RecordID() string { return a.ID }
func (a Appointment) OwnerID() string  { return a.UserID }

// Credential is the password sign-in record stored at credentials/{email}.
// It is never served through the API.
type Credential struct {
	UserID            string    `json:"userId"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"passwordHash"`
	CreatedAt         time.Time `json:"createdAt"`
	PasswordChangedAt time.Time `json:"passwordChangedAt"`
}

// IdentityLink maps a federated subject to a user id, stored at
// identities/{provider}:{subject}.
type IdentityLink struct {
	UserID    string    `json:"userId"`
	Provider  string    `json:"provider"`
	Subject   string    `json:"subject"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}
