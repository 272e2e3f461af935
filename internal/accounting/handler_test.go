package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *memIdempotency) CheckAndInsert(ctx context.Context, companyID int64, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("%d:%s:%s", companyID, module, key)
	if _, ok := m.keys[id]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[id] = struct{}{}
	return nil
}

func (m *memIdempotency) Delete(ctx context.Context, companyID int64, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, fmt.Sprintf("%d:%s:%s", companyID, module, key))
	return nil
}

type apiClient struct {
	t      *testing.T
	router chi.Router
}

func newAPIClient(t *testing.T, f *fixture) *apiClient {
	t.Helper()
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, &memIdempotency{keys: map[string]struct{}{}})
	r := chi.NewRouter()
	h.MountRoutes(r)
	return &apiClient{t: t, router: r}
}

func (c *apiClient) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCompanyID, "1")
	req.Header.Set(HeaderActorID, "7")
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func entryPayload(f *fixture, date string, debit, credit string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"date":%q,"type":"general","description":"cash sale","lines":[`, date)
	fmt.Fprintf(&buf, `{"account_id":%d,"debit":%q},`, f.cash.ID, debit)
	fmt.Fprintf(&buf, `{"account_id":%d,"credit":%q}]}`, f.revenue.ID, credit)
	return buf.String()
}

func TestHandlerEntryLifecycle(t *testing.T) {
	f := newFixture(t)
	api := newAPIClient(t, f)

	rec := api.do(http.MethodPost, "/ledger/entries", entryPayload(f, "2024-01-10", "1000", "1000"), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[journals.Journal](t, rec)
	assert.Equal(t, "JV-2024-00001", created.Reference)
	assert.Equal(t, journals.StatusDraft, created.Status)

	rec = api.do(http.MethodPost, fmt.Sprintf("/ledger/entries/%d/post", created.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, journals.StatusPosted, decodeBody[journals.Journal](t, rec).Status)

	rec = api.do(http.MethodGet, fmt.Sprintf("/ledger/balances?account_id=%d&period_id=%d", f.cash.ID, created.PeriodID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decodeBody[balances.Snapshot](t, rec)
	assert.True(t, snap.ClosingDebit.Equal(amt(1000)), snap.ClosingDebit.String())

	rec = api.do(http.MethodGet, fmt.Sprintf("/ledger/balances/at?account_id=%d&date=2024-01-31", f.cash.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[balances.PointBalance](t, rec).Net.Equal(amt(1000)))

	rec = api.do(http.MethodPost, fmt.Sprintf("/ledger/entries/%d/void", created.ID), `{"reason":"duplicate"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reversal := decodeBody[journals.Journal](t, rec)
	require.NotNil(t, reversal.ReversalOf)
	assert.Equal(t, created.ID, *reversal.ReversalOf)

	rec = api.do(http.MethodPost, fmt.Sprintf("/ledger/entries/%d/void", created.ID), "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	problem := decodeBody[httpx.ProblemDetail](t, rec)
	assert.Equal(t, "urn:odyssey:ledger:not_voidable", problem.Type)
}

func TestHandlerRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	api := newAPIClient(t, f)

	rec := api.do(http.MethodPost, "/ledger/entries", entryPayload(f, "2024-01-10", "10", "10"), map[string]string{HeaderCompanyID: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, "/ledger/entries", `{"date":"10/01/2024","type":"general","lines":[]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[httpx.ProblemDetail](t, rec).Detail, "date")

	rec = api.do(http.MethodPost, "/ledger/entries", `{"date":"2024-01-10","type":"general","lines":[{"account_id":0},{"account_id":1}]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[httpx.ProblemDetail](t, rec).Detail, "lines[0].account_id")

	rec = api.do(http.MethodPost, "/ledger/entries", `{"date":"2024-01-10","type":"barter","lines":[{"account_id":1},{"account_id":2}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, "/ledger/entries", `{"date":"2024-01-10","unknown":true}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/ledger/entries/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/ledger/entries/404", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerMapsPostingFailures(t *testing.T) {
	f := newFixture(t)
	api := newAPIClient(t, f)

	rec := api.do(http.MethodPost, "/ledger/entries", entryPayload(f, "2024-01-10", "100", "90"), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	unbalanced := decodeBody[journals.Journal](t, rec)

	rec = api.do(http.MethodPost, fmt.Sprintf("/ledger/entries/%d/post", unbalanced.ID), "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(http.MethodPost, "/ledger/entries", entryPayload(f, "2024-01-11", "50", "50"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	draft := decodeBody[journals.Journal](t, rec)

	rec = api.do(http.MethodPost, fmt.Sprintf("/ledger/periods/%d/close", draft.PeriodID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decodeBody[CloseResult](t, rec)
	assert.False(t, closed.CarriedForward)

	rec = api.do(http.MethodPost, fmt.Sprintf("/ledger/entries/%d/post", draft.ID), "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "urn:odyssey:ledger:closed_period", decodeBody[httpx.ProblemDetail](t, rec).Type)
}

func TestHandlerHonoursIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	api := newAPIClient(t, f)
	headers := map[string]string{HeaderIdempotencyKey: "req-1"}

	rec := api.do(http.MethodPost, "/ledger/entries", entryPayload(f, "2024-01-10", "10", "10"), headers)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(http.MethodPost, "/ledger/entries", entryPayload(f, "2024-01-10", "10", "10"), headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "urn:odyssey:ledger:duplicate_request", decodeBody[httpx.ProblemDetail](t, rec).Type)

	// A failed create releases its key.
	failing := fmt.Sprintf(`{"date":"2024-01-10","type":"general","lines":[{"account_id":%d,"debit":"5"},{"account_id":9999,"credit":"5"}]}`, f.cash.ID)
	retry := map[string]string{HeaderIdempotencyKey: "req-2"}
	rec = api.do(http.MethodPost, "/ledger/entries", failing, retry)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(http.MethodPost, "/ledger/entries", entryPayload(f, "2024-01-10", "5", "5"), retry)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandlerPeriodsAndReports(t *testing.T) {
	f := newFixture(t)
	api := newAPIClient(t, f)

	rec := api.do(http.MethodPost, "/ledger/periods", `{"name":"2024-02","start_date":"2024-02-01","end_date":"2024-02-29"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(http.MethodPost, "/ledger/periods", `{"name":"overlap","start_date":"2024-02-15","end_date":"2024-03-15"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	posted := f.post(t, day(2024, 1, 5), f.cash.ID, f.revenue.ID, 300)
	f.post(t, day(2024, 1, 6), f.expense.ID, f.cash.ID, 100)

	rec = api.do(http.MethodGet, fmt.Sprintf("/ledger/periods/%d/reports/trial-balance", posted.PeriodID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tb struct {
		Balanced bool `json:"balanced"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tb))
	assert.True(t, tb.Balanced)

	for _, path := range []string{"profit-loss", "balance-sheet"} {
		rec = api.do(http.MethodGet, fmt.Sprintf("/ledger/periods/%d/reports/%s", posted.PeriodID, path), "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec = api.do(http.MethodGet, fmt.Sprintf("/ledger/periods/%d/integrity", posted.PeriodID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[IntegrityReport](t, rec)
	assert.Empty(t, report.Anomalies)

	rec = api.do(http.MethodPost, fmt.Sprintf("/ledger/periods/%d/rebuild", posted.PeriodID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, fmt.Sprintf("/ledger/periods/%d/balances", posted.PeriodID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]balances.Snapshot](t, rec), 3)

	rec = api.do(http.MethodPost, fmt.Sprintf("/ledger/periods/%d/close", posted.PeriodID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[CloseResult](t, rec).CarriedForward)

	rec = api.do(http.MethodPost, fmt.Sprintf("/ledger/periods/%d/reopen", posted.PeriodID), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/ledger/periods", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"2024-02"`)
}

func TestHandlerChartOfAccounts(t *testing.T) {
	f := newFixture(t)
	api := newAPIClient(t, f)

	body := fmt.Sprintf(`{"code":"1200","name":"Bank","type":"asset","parent_id":%d,"allow_direct_posting":true}`, f.group.ID)
	rec := api.do(http.MethodPost, "/ledger/accounts", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bank := decodeBody[accounts.Account](t, rec)
	assert.Equal(t, accounts.AccountTypeAsset, bank.Type)
	assert.True(t, bank.Postable())
	assert.Contains(t, f.audit.actions(), "account.create")

	rec = api.do(http.MethodPost, "/ledger/accounts", `{"code":"1100","name":"Cash again","type":"ASSET"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "urn:odyssey:ledger:duplicate_account_code", decodeBody[httpx.ProblemDetail](t, rec).Type)

	body = fmt.Sprintf(`{"code":"4100","name":"Other income","type":"REVENUE","parent_id":%d}`, f.group.ID)
	rec = api.do(http.MethodPost, "/ledger/accounts", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = api.do(http.MethodPost, "/ledger/accounts", `{"code":"9000","name":"Mystery","type":"LOSS"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, "/ledger/accounts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]accounts.Account](t, rec), 6)

	rec = api.do(http.MethodGet, "/ledger/accounts", "", map[string]string{HeaderCompanyID: "2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]accounts.Account](t, rec))
}
