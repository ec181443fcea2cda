package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/anguillanneuf/BizTrack/internal/aggregate"
	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/middleware"
	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/anguillanneuf/BizTrack/internal/query"
	"github.com/anguillanneuf/BizTrack/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// RecordCommander defines the write-side operations used by RecordHandler.
type RecordCommander interface {
	CreateRecord(context.Context, cqrs.CreateRecordCommand) (string, error)
	UpdateRecord(context.Context, cqrs.UpdateRecordCommand) error
	DeleteRecord(context.Context, cqrs.DeleteRecordCommand) error
}

// RecordQuerier defines the read-side operations used by RecordHandler.
type RecordQuerier[T aggregate.Record] interface {
	List(context.Context, cqrs.ListRecordsQuery) ([]aggregate.Item[T], error)
	Watch(ctx context.Context, viewerID string) <-chan aggregate.View[T]
}

// recordRequest is a validated form that turns into stored fields.
type recordRequest interface {
	fields() map[string]any
}

type IncomeRequest struct {
	Amount          decimal.Decimal `json:"amount" validate:"gt=0"`
	Date            string          `json:"date" validate:"required,datetime=2006-01-02"`
	Description     string          `json:"description" validate:"required,max=200"`
	Category        string          `json:"category"`
	PaymentMethod   string          `json:"paymentMethod"`
	ReferenceNumber string          `json:"referenceNumber"`
}

func (r IncomeRequest) fields() map[string]any {
	return map[string]any{
		"amount":          r.Amount,
		"date":            r.Date,
		"description":     r.Description,
		"category":        r.Category,
		"paymentMethod":   r.PaymentMethod,
		"referenceNumber": r.ReferenceNumber,
	}
}

type ExpenseRequest struct {
	Amount          decimal.Decimal `json:"amount" validate:"gt=0"`
	Date            string          `json:"date" validate:"required,datetime=2006-01-02"`
	Description     string          `json:"description" validate:"required,max=200"`
	Category        string          `json:"category"`
	PaymentMethod   string          `json:"paymentMethod"`
	Vendor          string          `json:"vendor"`
	ReferenceNumber string          `json:"referenceNumber"`
}

func (r ExpenseRequest) fields() map[string]any {
	return map[string]any{
		"amount":          r.Amount,
		"date":            r.Date,
		"description":     r.Description,
		"category":        r.Category,
		"paymentMethod":   r.PaymentMethod,
		"vendor":          r.Vendor,
		"referenceNumber": r.ReferenceNumber,
	}
}

type AppointmentRequest struct {
	Title       string   `json:"title" validate:"required,max=100"`
	StartTime   string   `json:"startTime" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	EndTime     string   `json:"endTime" validate:"required,datetime=2006-01-02T15:04:05Z07:00,afterfield=StartTime"`
	Location    string   `json:"location"`
	Description string   `json:"description" validate:"max=500"`
	Attendees   []string `json:"attendees"`
}

// fields stores times in UTC at second precision so they order as strings.
func (r AppointmentRequest) fields() map[string]any {
	start, _ := time.Parse(time.RFC3339, r.StartTime)
	end, _ := time.Parse(time.RFC3339, r.EndTime)
	attendees := r.Attendees
	if attendees == nil {
		attendees = []string{}
	}
	return map[string]any{
		"title":       r.Title,
		"startTime":   start.UTC().Truncate(time.Second),
		"endTime":     end.UTC().Truncate(time.Second),
		"location":    r.Location,
		"description": r.Description,
		"attendees":   attendees,
	}
}

// RecordHandler serves one record kind. R is the request form of the kind.
type RecordHandler[T aggregate.Record, R recordRequest] struct {
	kind     models.RecordKind
	commands RecordCommander
	queries  RecordQuerier[T]
}

type ListRecordsResponse[T aggregate.Record] struct {
	Records []aggregate.Item[T] `json:"records"`
}

func NewRecordHandler[T aggregate.Record, R recordRequest](
	kind models.RecordKind,
	commands RecordCommander,
	queries RecordQuerier[T],
) *RecordHandler[T, R] {
	return &RecordHandler[T, R]{kind: kind, commands: commands, queries: queries}
}

func NewIncomeHandler(commands RecordCommander, queries RecordQuerier[models.IncomeRecord]) *RecordHandler[models.IncomeRecord, IncomeRequest] {
	return NewRecordHandler[models.IncomeRecord, IncomeRequest](models.KindIncomes, commands, queries)
}

func NewExpenseHandler(commands RecordCommander, queries RecordQuerier[models.ExpenseRecord]) *RecordHandler[models.ExpenseRecord, ExpenseRequest] {
	return NewRecordHandler[models.ExpenseRecord, ExpenseRequest](models.KindExpenses, commands, queries)
}

func NewAppointmentHandler(commands RecordCommander, queries RecordQuerier[models.Appointment]) *RecordHandler[models.Appointment, AppointmentRequest] {
	return NewRecordHandler[models.Appointment, AppointmentRequest](models.KindAppointments, commands, queries)
}

func (h *RecordHandler[T, R]) Kind() models.RecordKind {
	return h.kind
}

func (h *RecordHandler[T, R]) ListRecords(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	items, err := h.queries.List(c.Request.Context(), cqrs.ListRecordsQuery{Kind: h.kind, ViewerID: userID})
	if err != nil {
		respondCommandError(c, err, "Failed to load "+string(h.kind))
		return
	}
	c.JSON(http.StatusOK, ListRecordsResponse[T]{Records: items})
}

// WatchRecords streams the merged view as server-sent "records" events.
func (h *RecordHandler[T, R]) WatchRecords(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	streamLive(c, "records", h.queries.Watch(ctx, userID), query.FromView[T])
}

func (h *RecordHandler[T, R]) CreateRecord(c *gin.Context) {
	ownerID := c.Param("ownerId")
	userID, _ := middleware.GetUserID(c)

	req, ok := bindRecord[R](c)
	if !ok {
		return
	}

	id, err := h.commands.CreateRecord(c.Request.Context(), cqrs.CreateRecordCommand{
		Kind:     h.kind,
		ViewerID: userID,
		OwnerID:  ownerID,
		RecordID: utils.NewDocumentID(),
		Fields:   req.fields(),
	})
	if err != nil {
		respondCommandError(c, err, "Failed to add "+h.kind.Label())
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{ID: id, Message: h.kind.Label() + " is being saved"})
}

func (h *RecordHandler[T, R]) UpdateRecord(c *gin.Context) {
	ownerID := c.Param("ownerId")
	recordID := c.Param("id")
	userID, _ := middleware.GetUserID(c)

	if !utils.ValidDocumentID(recordID) {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid record id")
		return
	}
	req, ok := bindRecord[R](c)
	if !ok {
		return
	}

	err := h.commands.UpdateRecord(c.Request.Context(), cqrs.UpdateRecordCommand{
		Kind:     h.kind,
		ViewerID: userID,
		OwnerID:  ownerID,
		RecordID: recordID,
		Fields:   req.fields(),
	})
	if err != nil {
		respondCommandError(c, err, "Failed to update "+h.kind.Label())
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{ID: recordID, Message: h.kind.Label() + " is being updated"})
}

func (h *RecordHandler[T, R]) DeleteRecord(c *gin.Context) {
	ownerID := c.Param("ownerId")
	recordID := c.Param("id")
	userID, _ := middleware.GetUserID(c)

	if !utils.ValidDocumentID(recordID) {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid record id")
		return
	}

	err := h.commands.DeleteRecord(c.Request.Context(), cqrs.DeleteRecordCommand{
		Kind:     h.kind,
		ViewerID: userID,
		OwnerID:  ownerID,
		RecordID: recordID,
	})
	if err != nil {
		respondCommandError(c, err, "Failed to delete "+h.kind.Label())
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{ID: recordID, Message: h.kind.Label() + " is being deleted"})
}

// Register mounts the kind's routes: reads on /{kind}, writes under the
// owner's namespace.
func (h *RecordHandler[T, R]) Register(rg *gin.RouterGroup) {
	kind := "/" + string(h.kind)
	rg.GET(kind, h.ListRecords)
	rg.GET(kind+"/live", h.WatchRecords)
	rg.POST("/users/:ownerId"+kind, h.CreateRecord)
	rg.PUT("/users/:ownerId"+kind+"/:id", h.UpdateRecord)
	rg.DELETE("/users/:ownerId"+kind+"/:id", h.DeleteRecord)
}

func bindRecord[R recordRequest](c *gin.Context) (R, bool) {
	var req R
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return req, false
	}
	return req, true
}
