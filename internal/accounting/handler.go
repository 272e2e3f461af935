package accounting

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	ledgererr "github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Tenant headers. Resolving them from a session or token happens upstream.
const (
	HeaderCompanyID      = "X-Company-ID"
	HeaderBranchID       = "X-Branch-ID"
	HeaderActorID        = "X-Actor-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

const dateLayout = "2006-01-02"

// IdempotencyGuard claims request keys so retried creates are not duplicated.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, companyID int64, key, module string) error
	Delete(ctx context.Context, companyID int64, key, module string) error
}

// Handler wires finance ledger endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency IdempotencyGuard
	validator   *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyGuard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, idempotency: idempotency, validator: v}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Post("/entries", h.handleCreateEntry)
		r.Get("/entries/{id}", h.handleGetEntry)
		r.Post("/entries/{id}/post", h.handlePostEntry)
		r.Post("/entries/{id}/void", h.handleVoidEntry)

		r.Get("/accounts", h.handleListAccounts)
		r.Post("/accounts", h.handleCreateAccount)

		r.Get("/balances", h.handleGetBalance)
		r.Get("/balances/at", h.handleBalanceAtDate)

		r.Get("/periods", h.handleListPeriods)
		r.Post("/periods", h.handleCreatePeriod)
		r.Get("/periods/{id}/balances", h.handlePeriodBalances)
		r.Post("/periods/{id}/close", h.handleClosePeriod)
		r.Post("/periods/{id}/reopen", h.handleReopenPeriod)
		r.Post("/periods/{id}/rebuild", h.handleRebuildPeriod)
		r.Get("/periods/{id}/integrity", h.handleIntegrity)
		r.Get("/periods/{id}/reports/trial-balance", h.handleTrialBalance)
		r.Get("/periods/{id}/reports/profit-loss", h.handleProfitAndLoss)
		r.Get("/periods/{id}/reports/balance-sheet", h.handleBalanceSheet)
	})
}

type lineRequest struct {
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description" validate:"max=255"`
	CostCenter  string          `json:"cost_center" validate:"max=64"`
	SourceRef   string          `json:"source_ref" validate:"max=64"`
}

type createEntryRequest struct {
	Date         string           `json:"date" validate:"required,datetime=2006-01-02"`
	Type         string           `json:"type" validate:"required"`
	Currency     string           `json:"currency" validate:"omitempty,len=3"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate"`
	Description  string           `json:"description" validate:"max=500"`
	SourceModule string           `json:"source_module" validate:"omitempty,max=32"`
	SourceID     *uuid.UUID       `json:"source_id"`
	Lines        []lineRequest    `json:"lines" validate:"required,min=2,dive"`
}

func (req createEntryRequest) input() (journals.CreateInput, error) {
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return journals.CreateInput{}, ledgererr.Invalid("date", "expected YYYY-MM-DD")
	}
	typ, err := journals.ParseType(req.Type)
	if err != nil {
		return journals.CreateInput{}, ledgererr.Invalid("type", "%v", err)
	}
	in := journals.CreateInput{
		Date:         date,
		Type:         typ,
		Currency:     req.Currency,
		Description:  req.Description,
		SourceModule: req.SourceModule,
		SourceID:     req.SourceID,
	}
	if req.ExchangeRate != nil {
		in.ExchangeRate = *req.ExchangeRate
		if in.ExchangeRate.IsZero() {
			return journals.CreateInput{}, ledgererr.Invalid("exchange_rate", "must be positive")
		}
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, journals.LineInput{
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
			CostCenter:  line.CostCenter,
			SourceRef:   line.SourceRef,
		})
	}
	return in, nil
}

type voidRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type createAccountRequest struct {
	Code               string `json:"code" validate:"required,max=32"`
	Name               string `json:"name" validate:"required,max=128"`
	Type               string `json:"type" validate:"required"`
	ParentID           *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	IsGroup            bool   `json:"is_group"`
	AllowDirectPosting bool   `json:"allow_direct_posting"`
}

type createPeriodRequest struct {
	Name      string `json:"name" validate:"max=64"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

func (h *Handler) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	scope, err := ScopeFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req createEntryRequest
	if err := h.decode(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		RespondError(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), scope.CompanyID, key, "ledger.entries"); err != nil {
			RespondError(w, err)
			return
		}
	}
	entry, err := h.service.CreateEntry(r.Context(), scope, in)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if derr := h.idempotency.Delete(r.Context(), scope.CompanyID, key, "ledger.entries"); derr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	h.withEntry(w, r, func(scope shared.TenantScope, id int64) (any, error) {
		return h.service.GetEntry(r.Context(), scope, id)
	})
}

func (h *Handler) handlePostEntry(w http.ResponseWriter, r *http.Request) {
	h.withEntry(w, r, func(scope shared.TenantScope, id int64) (any, error) {
		return h.service.PostEntry(r.Context(), scope, id)
	})
}

func (h *Handler) handleVoidEntry(w http.ResponseWriter, r *http.Request) {
	var req voidRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			RespondError(w, err)
			return
		}
	}
	h.withEntry(w, r, func(scope shared.TenantScope, id int64) (any, error) {
		return h.service.VoidEntry(r.Context(), scope, id, req.Reason)
	})
}

func (h *Handler) withEntry(w http.ResponseWriter, r *http.Request, fn func(shared.TenantScope, int64) (any, error)) {
	scope, err := ScopeFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	out, err := fn(scope, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	scope, err := ScopeFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	q := r.URL.Query()
	accountID, err := requiredInt(q.Get("account_id"), "account_id")
	if err != nil {
		RespondError(w, err)
		return
	}
	periodID, err := requiredInt(q.Get("period_id"), "period_id")
	if err != nil {
		RespondError(w, err)
		return
	}
	branchID, err := optionalInt(q.Get("branch_id"), "branch_id")
	if err != nil {
		RespondError(w, err)
		return
	}
	snap, err := h.service.GetBalance(r.Context(), scope, accountID, periodID, branchID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleBalanceAtDate(w http.ResponseWriter, r *http.Request) {
	scope, err := ScopeFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	q := r.URL.Query()
	accountID, err := requiredInt(q.Get("account_id"), "account_id")
	if err != nil {
		RespondError(w, err)
		return
	}
	date, err := time.Parse(dateLayout, q.Get("date"))
	if err != nil {
		RespondError(w, ledgererr.Invalid("date", "expected YYYY-MM-DD"))
		return
	}
	branchID, err := optionalInt(q.Get("branch_id"), "branch_id")
	if err != nil {
		RespondError(w, err)
		return
	}
	point, err := h.service.GetBalanceAtDate(r.Context(), scope, accountID, date, branchID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, point)
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	scope, err := ScopeFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	list, err := h.service.ListAccounts(r.Context(), scope)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	scope, err := ScopeFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req createAccountRequest
	if err := h.decode(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	account, err := h.service.CreateAccount(r.Context(), scope, accounts.CreateInput{
		Code:               req.Code,
		Name:               req.Name,
		Type:               accounts.AccountType(req.Type),
		ParentID:           req.ParentID,
		IsGroup:            req.IsGroup,
		AllowDirectPosting: req.AllowDirectPosting,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	scope, err := ScopeFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	list, err := h.service.ListPeriods(r.Context(), scope)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	scope, err := ScopeFromRequest(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	var req createPeriodRequest
	if err := h.decode(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	start, _ := time.Parse(dateLayout, req.StartDate)
	end, _ := time.Parse(dateLayout, req.EndDate)
	period, err := h.service.CreatePeriod(r.Context(), scope, req.Name, start, end)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) handlePeriodBalances(w http.ResponseWriter, r *http.Request) {
	h.withEntry(w, r, func(scope shared.TenantScope, id int64) (any, error) {
		return h.service.ListPeriodBalances(r.Context(), scope, id)
	})
}

func (h *Handler) handleClosePeriod(w http.ResponseWriter, r *http.Request) {
	h.withEntry(w, r, func(scope shared.TenantScope, id int64) (any, error) {
		return h.service.ClosePeriod(r.Context(), scope, id)
	})
}

func (h *Handler) handleReopenPeriod(w http.ResponseWriter, r *http.Request) {
	h.withEntry(w, r, func(scope shared.TenantScope, id int64) (any, error) {
		return h.service.ReopenPeriod(r.Context(), scope, id)
	})
}

func (h *Handler) handleRebuildPeriod(w http.ResponseWriter, r *http.Request) {
	h.withEntry(w, r, func(scope shared.TenantScope, id int64) (any, error) {
		return h.service.RebuildPeriodBalances(r.Context(), scope, id)
	})
}

func (h *Handler) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	h.withEntry(w, r, func(scope shared.TenantScope, id int64) (any, error) {
		return h.service.CheckIntegrity(r.Context(), scope, id)
	})
}

func (h *Handler) handleTrialBalance(w http.ResponseWriter, r *http.Request) {
	h.withReport(w, r, func(scope shared.TenantScope, id int64, branch *int64) (any, error) {
		return h.service.TrialBalance(r.Context(), scope, id, branch)
	})
}

func (h *Handler) handleProfitAndLoss(w http.ResponseWriter, r *http.Request) {
	h.withReport(w, r, func(scope shared.TenantScope, id int64, branch *int64) (any, error) {
		return h.service.ProfitAndLoss(r.Context(), scope, id, branch)
	})
}

func (h *Handler) handleBalanceSheet(w http.ResponseWriter, r *http.Request) {
	h.withReport(w, r, func(scope shared.TenantScope, id int64, branch *int64) (any, error) {
		return h.service.BalanceSheet(r.Context(), scope, id, branch)
	})
}

func (h *Handler) withReport(w http.ResponseWriter, r *http.Request, fn func(shared.TenantScope, int64, *int64) (any, error)) {
	branchID, err := optionalInt(r.URL.Query().Get("branch_id"), "branch_id")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.withEntry(w, r, func(scope shared.TenantScope, id int64) (any, error) {
		return fn(scope, id, branchID)
	})
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return ledgererr.Invalid("body", "%v", err)
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			field := fe.Namespace()
			if _, rest, ok := strings.Cut(field, "."); ok {
				field = rest
			}
			return ledgererr.Invalid(field, "failed %s", fe.Tag())
		}
		return ledgererr.Invalid("body", "%v", err)
	}
	return nil
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ledgererr.ValidationError
	if !errors.As(err, &verr) {
		h.logger.Info("ledger request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	RespondError(w, err)
}

// ScopeFromRequest reads the tenant headers of a request.
func ScopeFromRequest(r *http.Request) (shared.TenantScope, error) {
	company, err := requiredInt(r.Header.Get(HeaderCompanyID), HeaderCompanyID)
	if err != nil {
		return shared.TenantScope{}, err
	}
	actor, err := requiredInt(r.Header.Get(HeaderActorID), HeaderActorID)
	if err != nil {
		return shared.TenantScope{}, err
	}
	branch, err := optionalInt(r.Header.Get(HeaderBranchID), HeaderBranchID)
	if err != nil {
		return shared.TenantScope{}, err
	}
	return shared.TenantScope{CompanyID: company, BranchID: branch, ActorID: actor}, nil
}

func pathID(r *http.Request) (int64, error) {
	return requiredInt(chi.URLParam(r, "id"), "id")
}

func requiredInt(raw, field string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, ledgererr.Invalid(field, "must be a positive integer")
	}
	return v, nil
}

func optionalInt(raw, field string) (*int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, err := requiredInt(raw, field)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
