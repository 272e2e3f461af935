package accounting

import (
	"net/http"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	ledgererr "github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

var problems = httpx.NewErrorMapper("urn:odyssey:ledger:", ledgererr.IsRetryable,
	httpx.ErrorMapping{Target: ledgererr.ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed", Code: "validation"},
	httpx.ErrorMapping{Target: ledgererr.ErrUnbalanced, Status: http.StatusUnprocessableEntity, Title: "Unbalanced Entry", Code: "unbalanced"},
	httpx.ErrorMapping{Target: ledgererr.ErrNonPostableAccount, Status: http.StatusUnprocessableEntity, Title: "Account Not Postable", Code: "non_postable_account"},
	httpx.ErrorMapping{Target: ledgererr.ErrClosedPeriod, Status: http.StatusConflict, Title: "Period Closed", Code: "closed_period"},
	httpx.ErrorMapping{Target: ledgererr.ErrNotDraft, Status: http.StatusConflict, Title: "Entry Not Draft", Code: "not_draft"},
	httpx.ErrorMapping{Target: ledgererr.ErrNotVoidable, Status: http.StatusConflict, Title: "Entry Not Voidable", Code: "not_voidable"},
	httpx.ErrorMapping{Target: ledgererr.ErrInvalidStatus, Status: http.StatusConflict, Title: "Invalid Status", Code: "invalid_status"},
	httpx.ErrorMapping{Target: ledgererr.ErrPeriodOverlap, Status: http.StatusConflict, Title: "Period Overlap", Code: "period_overlap"},
	httpx.ErrorMapping{Target: accounts.ErrDuplicateCode, Status: http.StatusConflict, Title: "Duplicate Account Code", Code: "duplicate_account_code"},
	httpx.ErrorMapping{Target: ledgererr.ErrSourceAlreadyLinked, Status: http.StatusConflict, Title: "Source Already Linked", Code: "source_linked"},
	httpx.ErrorMapping{Target: ledgererr.ErrConcurrencyConflict, Status: http.StatusConflict, Title: "Concurrent Modification", Code: "concurrency_conflict"},
	httpx.ErrorMapping{Target: shared.ErrIdempotencyConflict, Status: http.StatusConflict, Title: "Duplicate Request", Code: "duplicate_request"},
	httpx.ErrorMapping{Target: shared.ErrLockBusy, Status: http.StatusLocked, Title: "Period Busy", Code: "period_busy"},
	httpx.ErrorMapping{Target: ledgererr.ErrJournalNotFound, Status: http.StatusNotFound, Title: "Not Found", Code: "journal_not_found"},
	httpx.ErrorMapping{Target: ledgererr.ErrAccountNotFound, Status: http.StatusNotFound, Title: "Not Found", Code: "account_not_found"},
	httpx.ErrorMapping{Target: ledgererr.ErrPeriodNotFound, Status: http.StatusNotFound, Title: "Not Found", Code: "period_not_found"},
)

// RespondError writes ledger errors as RFC7807 problems.
func RespondError(w http.ResponseWriter, err error) {
	problems.Respond(w, err)
}
