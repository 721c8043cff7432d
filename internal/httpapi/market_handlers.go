package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tutorly.org/internal/market"
	"tutorly.org/internal/stream"
)

const defaultTaskPageSize = 50

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"due_date,omitempty"`
	Budget      *int64 `json:"budget,omitempty"`
}

type submitBidRequest struct {
	Amount  int64  `json:"amount"`
	Message string `json:"message,omitempty"`
}

type acceptBidRequest struct {
	BidID string `json:"bid_id"`
}

type taskPage struct {
	Items      []market.Task `json:"items"`
	NextBefore uint64        `json:"next_before,omitempty"`
	AsOf       time.Time     `json:"as_of"`
}

func (a *API) handleTasksCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTasks(w, r)
	case http.MethodPost:
		a.createTask(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if student := strings.TrimSpace(q.Get("student")); student != "" {
		tasks, err := a.market.ListTasksByStudent(r.Context(), student)
		if err != nil {
			handleMarketError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, taskPage{Items: tasks, AsOf: time.Now().UTC()})
		return
	}

	limit := defaultTaskPageSize
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	var before uint64
	if raw := q.Get("before"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "before must be a non-negative integer")
			return
		}
		before = n
	}

	tasks, next, err := a.market.ListTasks(r.Context(), limit, before)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskPage{
		Items:      tasks,
		NextBefore: next,
		AsOf:       time.Now().UTC(),
	})
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	in := market.TaskInput{
		Title:       req.Title,
		Description: req.Description,
		Budget:      req.Budget,
	}
	if req.DueDate != "" {
		due, err := time.Parse(time.RFC3339, req.DueDate)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "due_date must be RFC 3339")
			return
		}
		in.DueDate = &due
	}

	task, err := a.market.CreateTask(r.Context(), p, in)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}

	a.audit(r.Context(), "task_created", "task", task.ID, map[string]any{
		"title": task.Title,
	})
	a.stream.Publish(stream.Event{
		Type:    stream.EventTaskCreated,
		TaskID:  task.ID,
		ActorID: p.ID,
	})

	w.Header().Set("Location", "/v1/tasks/"+task.ID)
	writeJSON(w, http.StatusCreated, task)
}

func (a *API) handleTaskResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	if rest == "" {
		writeError(w, r, http.StatusNotFound, "task not found")
		return
	}
	parts := strings.Split(rest, "/")
	taskID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getTask(w, r, taskID)
	case len(parts) == 2 && parts[1] == "bids":
		switch r.Method {
		case http.MethodGet:
			a.listBids(w, r, taskID)
		case http.MethodPost:
			a.submitBid(w, r, taskID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case len(parts) == 2 && parts[1] == "accept":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.acceptBid(w, r, taskID)
	case len(parts) == 2 && parts[1] == "payment":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.paymentForTask(w, r, taskID)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := a.market.GetTask(r.Context(), taskID)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) listBids(w http.ResponseWriter, r *http.Request, taskID string) {
	bids, err := a.market.ListBids(r.Context(), taskID)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": bids,
	})
}

func (a *API) submitBid(w http.ResponseWriter, r *http.Request, taskID string) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req submitBidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	bid, err := a.market.SubmitBid(r.Context(), p, taskID, req.Amount, req.Message)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}

	a.audit(r.Context(), "bid_submitted", "bid", bid.ID, map[string]any{
		"task_id": taskID,
		"amount":  bid.Amount,
	})
	a.stream.Publish(stream.Event{
		Type:    stream.EventBidSubmitted,
		TaskID:  taskID,
		ActorID: p.ID,
		Amount:  bid.Amount,
	})

	w.Header().Set("Location", fmt.Sprintf("/v1/tasks/%s/bids", taskID))
	writeJSON(w, http.StatusCreated, bid)
}

func (a *API) acceptBid(w http.ResponseWriter, r *http.Request, taskID string) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req acceptBidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.BidID) == "" {
		writeError(w, r, http.StatusBadRequest, "bid_id is required")
		return
	}

	payment, err := a.market.AcceptBid(r.Context(), p, taskID, req.BidID)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}

	a.audit(r.Context(), "bid_accepted", "task", taskID, map[string]any{
		"bid_id":     req.BidID,
		"payment_id": payment.ID,
		"amount":     payment.Amount,
	})
	a.stream.Publish(stream.Event{
		Type:    stream.EventBidAccepted,
		TaskID:  taskID,
		ActorID: p.ID,
		Amount:  payment.Amount,
	})

	w.Header().Set("Location", "/v1/payments/"+payment.ID)
	writeJSON(w, http.StatusCreated, payment)
}

func (a *API) paymentForTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	payment, err := a.market.PaymentForTask(r.Context(), taskID)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (a *API) handlePaymentsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	payments, err := a.market.ListPayments(r.Context(), p)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": payments,
	})
}

func (a *API) handlePaymentResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
	if rest == "webhook" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.paymentWebhook(w, r)
		return
	}

	parts := strings.Split(rest, "/")
	paymentID := parts[0]
	if paymentID == "" {
		writeError(w, r, http.StatusNotFound, "payment not found")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getPayment(w, r, paymentID)
	case len(parts) == 2 && parts[1] == "pay":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.markPaid(w, r, paymentID)
	case len(parts) == 2 && parts[1] == "checkout":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.createCheckout(w, r, paymentID)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) getPayment(w http.ResponseWriter, r *http.Request, paymentID string) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	payment, err := a.market.GetPayment(r.Context(), paymentID)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (a *API) markPaid(w http.ResponseWriter, r *http.Request, paymentID string) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	payment, err := a.market.MarkPaid(r.Context(), p, paymentID)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}

	a.audit(r.Context(), "payment_settled", "payment", payment.ID, map[string]any{
		"task_id": payment.TaskID,
		"amount":  payment.Amount,
	})
	a.stream.Publish(stream.Event{
		Type:    stream.EventPaymentSettled,
		TaskID:  payment.TaskID,
		ActorID: p.ID,
		Amount:  payment.Amount,
	})
	writeJSON(w, http.StatusOK, payment)
}

func (a *API) createCheckout(w http.ResponseWriter, r *http.Request, paymentID string) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	payment, err := a.market.GetPayment(r.Context(), paymentID)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	task, err := a.market.GetTask(r.Context(), payment.TaskID)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	if task.StudentID != p.ID {
		writeError(w, r, http.StatusForbidden, "only the task owner can start checkout")
		return
	}

	checkout, err := a.provider.CreateCheckout(r.Context(), payment)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "checkout failed")
		return
	}

	a.audit(r.Context(), "checkout_created", "payment", payment.ID, map[string]any{
		"ref": checkout.Ref,
	})
	writeJSON(w, http.StatusCreated, checkout)
}

type webhookRequest struct {
	CheckoutRef string `json:"checkout_ref"`
}

func (a *API) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := a.provider.Verify(body, r.Header.Get("X-Tutorly-Signature")); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	var req webhookRequest
	if err := unmarshalStrict(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	paymentID, err := a.provider.Resolve(r.Context(), req.CheckoutRef)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "unknown checkout reference")
		return
	}

	payment, err := a.market.ConfirmPayment(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, market.ErrAlreadyPaid) {
			// Re-delivered webhooks are fine; the payment stays settled.
			writeJSON(w, http.StatusOK, map[string]any{"status": "already_settled"})
			return
		}
		handleMarketError(w, r, err)
		return
	}

	a.audit(r.Context(), "payment_settled", "payment", payment.ID, map[string]any{
		"task_id": payment.TaskID,
		"amount":  payment.Amount,
		"via":     "webhook",
	})
	a.stream.Publish(stream.Event{
		Type:   stream.EventPaymentSettled,
		TaskID: payment.TaskID,
		Amount: payment.Amount,
	})
	writeJSON(w, http.StatusOK, payment)
}
