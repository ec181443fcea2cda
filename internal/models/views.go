package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerSummaryView is the per-owner read model kept in Redis by the record
// event subscriber. It only covers the owner's own namespace.
type LedgerSummaryView struct {
	UserID        string          `json:"userId"`
	TotalIncome   decimal.Decimal `json:"totalIncome"`
	TotalExpenses decimal.Decimal `json:"totalExpenses"`
	NetProfit     decimal.Decimal `json:"netProfit"`
	IncomeCount   int             `json:"incomeCount"`
	ExpenseCount  int             `json:"expenseCount"`
	UpdatedAt     time.Time       `json:"updatedTimestamp"`
}

// ChartPoint is one bar of the income-versus-expenses chart.
type ChartPoint struct {
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// DashboardView is derived from the merged income, expense and appointment views.
type DashboardView struct {
	TotalIncome          decimal.Decimal `json:"totalIncome"`
	TotalExpenses        decimal.Decimal `json:"totalExpenses"`
	NetProfit            decimal.Decimal `json:"netProfit"`
	Chart                []ChartPoint    `json:"chart"`
	UpcomingAppointments []Appointment   `json:"upcomingAppointments"`
}

// SessionView describes the signed-in viewer. It never carries tokens.
type SessionView struct {
	UserID      string    `json:"userId"`
	SessionID   string    `json:"sessionId"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	Provider    string    `json:"provider"`
	Anonymous   bool      `json:"anonymous"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}
