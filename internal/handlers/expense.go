package handlers

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/expense-tracker/apiserver/internal/services"
	"github.com/expense-tracker/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	maxMultipartMemory = 1 << 20
	formFieldReceipt   = "receipt"
	sniffLen           = 512
)

// ExpenseHandler provides HTTP handlers for the caller's expenses.
type ExpenseHandler struct {
	expenseService *services.ExpenseService
}

// NewExpenseHandler constructs a handler with the provided service.
func NewExpenseHandler(expenseService *services.ExpenseService) *ExpenseHandler {
	return &ExpenseHandler{expenseService: expenseService}
}

// ExpenseRouter registers expense routes on the given router. Every route
// requires authentication.
func ExpenseRouter(
	r chi.Router,
	expenseService *services.ExpenseService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewExpenseHandler(expenseService)

	r.Use(authMiddleware)
	r.Get("/", handler.ListExpenses)
	r.Post("/", handler.CreateExpense)
	r.Route("/{expenseID}", func(r chi.Router) {
		r.Put("/", handler.UpdateExpense)
		r.Delete("/", handler.DeleteExpense)
		r.Put("/receipt", handler.UploadReceipt)
		r.Get("/receipt", handler.DownloadReceipt)
	})
}

func (h *ExpenseHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Not authenticated")
		return
	}

	expenses, err := h.expenseService.List(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := make([]types.ExpensePublic, 0, len(expenses))
	for _, expense := range expenses {
		resp = append(resp, expense.Public())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ExpenseHandler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Not authenticated")
		return
	}

	req, err := decodeExpenseRequest(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	expense, err := h.expenseService.Create(r.Context(), user, *req.Description, *req.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, expense.Public())
}

func (h *ExpenseHandler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Not authenticated")
		return
	}

	id, err := parseExpenseID(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	req, err := decodeExpenseRequest(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	expense, err := h.expenseService.Update(r.Context(), user, id, *req.Description, *req.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, expense.Public())
}

func (h *ExpenseHandler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Not authenticated")
		return
	}

	id, err := parseExpenseID(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.expenseService.Delete(r.Context(), user, id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Expense deleted successfully"})
}

// UploadReceipt stores the multipart "receipt" file for the expense.
func (h *ExpenseHandler) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Not authenticated")
		return
	}
	if !h.expenseService.ReceiptsEnabled() {
		writeServiceError(w, r, services.ErrReceiptsDisabled)
		return
	}

	id, err := parseExpenseID(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	data, contentType, err := parseReceiptFile(w, r)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	expense, err := h.expenseService.AttachReceipt(r.Context(), user, id, data, contentType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, expense.Public())
}

// DownloadReceipt streams the stored receipt back to its owner.
func (h *ExpenseHandler) DownloadReceipt(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Not authenticated")
		return
	}

	id, err := parseExpenseID(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	reader, info, err := h.expenseService.OpenReceipt(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer reader.Close()

	buffered := bufio.NewReaderSize(reader, sniffLen)
	contentType := info.ContentType
	if contentType == "" {
		head, err := buffered.Peek(sniffLen)
		if err != nil && !errors.Is(err, io.EOF) {
			writeServiceError(w, r, err)
			return
		}
		contentType = http.DetectContentType(head)
	}

	w.Header().Set("Content-Type", contentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, buffered); err != nil {
		slog.WarnContext(r.Context(), "failed to stream receipt", "err", err, "expense_id", id)
	}
}

// ExpenseRequest is the create and update payload. Both fields are required.
type ExpenseRequest struct {
	Description *string  `json:"description"`
	Amount      *float64 `json:"amount"`
}

func decodeExpenseRequest(w http.ResponseWriter, r *http.Request) (ExpenseRequest, error) {
	var req ExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return ExpenseRequest{}, err
	}
	if req.Description == nil {
		return ExpenseRequest{}, errors.New("description: field required")
	}
	if req.Amount == nil {
		return ExpenseRequest{}, errors.New("amount: field required")
	}
	return req, nil
}

func parseExpenseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "expenseID"))
	if err != nil {
		return uuid.Nil, errors.New("expense_id: value is not a valid uuid")
	}
	return id, nil
}

func parseReceiptFile(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxReceiptBytes+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", errUploadTooLarge
		}
		return nil, "", errors.New("invalid multipart form")
	}

	file, header, err := r.FormFile(formFieldReceipt)
	if err != nil {
		return nil, "", errors.New("receipt: field required")
	}
	data, err := readFileLimited(file, services.MaxReceiptBytes)
	_ = file.Close()
	if err != nil {
		return nil, "", err
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
