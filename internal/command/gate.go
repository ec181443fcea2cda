package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/anguillanneuf/BizTrack/internal/notify"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrUnknownKind     = errors.New("unknown record kind")
)

// PermissionDeniedMessage is returned to callers rejected by the gate.
const PermissionDeniedMessage = "Permission Denied: You can only edit/delete records you created."

type action string

const (
	actionCreate action = "create"
	actionUpdate action = "edit"
	actionDelete action = "delete"
)

// authorize rejects mutations by anonymous callers and by anyone other than
// the owner of the target namespace, whatever their role.
func authorize(viewerID, ownerID string) error {
	if viewerID == "" {
		return ErrUnauthenticated
	}
	if ownerID != viewerID {
		return fmt.Errorf("%w: %s", ErrForbidden, PermissionDeniedMessage)
	}
	return nil
}

func noun(kind models.RecordKind) string {
	switch kind {
	case models.KindIncomes:
		return "income record"
	case models.KindExpenses:
		return "expense record"
	case models.KindAppointments:
		return "appointment"
	default:
		return "record"
	}
}

func deniedToast(kind models.RecordKind, a action, err error) notify.Toast {
	if errors.Is(err, ErrUnauthenticated) {
		return notify.Failure("Authentication Error",
			fmt.Sprintf("You must be logged in to manage %ss.", noun(kind)))
	}
	return notify.Failure("Permission Denied",
		fmt.Sprintf("You can only %s %ss you created.", a, noun(kind)))
}

func successToast(kind models.RecordKind, a action) notify.Toast {
	label := kind.Label()
	switch a {
	case actionCreate:
		if kind == models.KindAppointments {
			return notify.Success(label+" Added", "New appointment has been scheduled.")
		}
		return notify.Success(label+" Added", "New "+noun(kind)+" has been added.")
	case actionUpdate:
		return notify.Success(label+" Updated", "Your "+noun(kind)+" has been updated.")
	default:
		return notify.Success(label+" Deleted", capitalize(noun(kind))+" has been deleted.")
	}
}

func failureToast(kind models.RecordKind, a action) notify.Toast {
	verb := "save"
	if a == actionDelete {
		verb = "delete"
	}
	return notify.Failure("Error", fmt.Sprintf("Could not %s %s.", verb, noun(kind)))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
