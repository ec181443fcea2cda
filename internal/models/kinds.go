package models

// UsersCollection holds one profile document per user.
const UsersCollection = "users"

// RecordKind names a per-owner record collection.
type RecordKind string

const (
	KindIncomes      RecordKind = "incomes"
	KindExpenses     RecordKind = "expenses"
	KindAppointments RecordKind = "appointments"
)

// Collection returns the owner-scoped collection path, e.g. users/u1/incomes.
func (k RecordKind) Collection(ownerID string) string {
	return UsersCollection + "/" + ownerID + "/" + string(k)
}

// OrderField is the natural ordering key of the kind.
func (k RecordKind) OrderField() string {
	if k == KindAppointments {
		return "startTime"
	}
	return "date"
}

// Descending reports whether the natural ordering is newest first.
func (k RecordKind) Descending() bool {
	return k != KindAppointments
}

// Label is the singular name used in notifications.
func (k RecordKind) Label() string {
	switch k {
	case KindIncomes:
		return "Income"
	case KindExpenses:
		return "Expense"
	case KindAppointments:
		return "Appointment"
	default:
		return "Record"
	}
}

func (k RecordKind) Valid() bool {
	switch k {
	case KindIncomes, KindExpenses, KindAppointments:
		return true
	}
	return false
}
