package accounting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	ledgererr "github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// memLedger runs every unit of work against a private copy of the state and
// publishes it only when fn succeeds, so failed units leave no trace.
type memLedger struct {
	mu    sync.Mutex
	state *memState
	// interfere makes the next n balance updates see a foreign version bump.
	interfere int
	commits   int
}

type memState struct {
	accounts []accounts.Account
	periods  []periods.Period
	journals []journals.Journal
	balances []balances.Balance
	seqs     map[string]int64
	nextID   int64
}

func newMemLedger() *memLedger {
	return &memLedger{state: &memState{seqs: map[string]int64{}, nextID: 100}}
}

func (s *memState) clone() *memState {
	out := &memState{
		accounts: append([]accounts.Account(nil), s.accounts...),
		periods:  append([]periods.Period(nil), s.periods...),
		balances: append([]balances.Balance(nil), s.balances...),
		seqs:     make(map[string]int64, len(s.seqs)),
		nextID:   s.nextID,
	}
	for k, v := range s.seqs {
		out.seqs[k] = v
	}
	out.journals = make([]journals.Journal, len(s.journals))
	for i, j := range s.journals {
		j.Lines = append([]journals.Line(nil), j.Lines...)
		out.journals[i] = j
	}
	return out
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

func (l *memLedger) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	work := l.state.clone()
	if err := fn(ctx, &memTx{ledger: l, st: work}); err != nil {
		return err
	}
	l.state = work
	l.commits++
	return nil
}

func (l *memLedger) snapshot() *memState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.clone()
}

func (l *memLedger) addAccount(acc accounts.Account) accounts.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc.ID == 0 {
		acc.ID = l.state.id()
	}
	acc.IsActive = true
	l.state.accounts = append(l.state.accounts, acc)
	return acc
}

func (l *memLedger) balance(key balances.Key) (balances.Balance, bool) {
	st := l.snapshot()
	for _, row := range st.balances {
		if sameKey(row.Key, key) {
			return row, true
		}
	}
	return balances.Balance{}, false
}

func (l *memLedger) journal(id int64) journals.Journal {
	st := l.snapshot()
	for _, j := range st.journals {
		if j.ID == id {
			return j
		}
	}
	return journals.Journal{}
}

func sameKey(a, b balances.Key) bool {
	return a.AccountID == b.AccountID && a.PeriodID == b.PeriodID && sameBranch(a.BranchID, b.BranchID)
}

type memTx struct {
	ledger *memLedger
	st     *memState
}

func (tx *memTx) Accounts() accounts.Store { return memAccounts{tx.st} }
func (tx *memTx) Periods() periods.Store   { return memPeriods{tx.st} }
func (tx *memTx) Journals() journals.Store { return memJournals{tx.st} }
func (tx *memTx) Balances() balances.Store { return memBalances{tx} }

type memAccounts struct{ st *memState }

func (m memAccounts) Get(ctx context.Context, companyID, id int64) (accounts.Account, error) {
	for _, acc := range m.st.accounts {
		if acc.ID == id && acc.CompanyID == companyID {
			return acc, nil
		}
	}
	return accounts.Account{}, ledgererr.ErrAccountNotFound
}

func (m memAccounts) GetMany(ctx context.Context, companyID int64, ids []int64) (map[int64]accounts.Account, error) {
	out := make(map[int64]accounts.Account, len(ids))
	for _, id := range ids {
		if acc, err := m.Get(ctx, companyID, id); err == nil {
			out[id] = acc
		}
	}
	return out, nil
}

func (m memAccounts) List(ctx context.Context, companyID int64) ([]accounts.Account, error) {
	var out []accounts.Account
	for _, acc := range m.st.accounts {
		if acc.CompanyID == companyID {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (m memAccounts) Insert(ctx context.Context, companyID int64, in accounts.CreateInput) (accounts.Account, error) {
	acc := accounts.Account{ID: m.st.id(), CompanyID: companyID, Code: in.Code, Name: in.Name, Type: in.Type,
		ParentID: in.ParentID, IsGroup: in.IsGroup, AllowDirectPosting: in.AllowDirectPosting, IsActive: true}
	m.st.accounts = append(m.st.accounts, acc)
	return acc, nil
}

type memPeriods struct{ st *memState }

func (m memPeriods) Get(ctx context.Context, companyID, id int64) (periods.Period, error) {
	for _, p := range m.st.periods {
		if p.ID == id && p.CompanyID == companyID {
			return p, nil
		}
	}
	return periods.Period{}, ledgererr.ErrPeriodNotFound
}

func (m memPeriods) GetForUpdate(ctx context.Context, companyID, id int64) (periods.Period, error) {
	return m.Get(ctx, companyID, id)
}

func (m memPeriods) GetForShare(ctx context.Context, companyID, id int64) (periods.Period, error) {
	return m.Get(ctx, companyID, id)
}

func (m memPeriods) FindCovering(ctx context.Context, companyID int64, date time.Time) (periods.Period, error) {
	for _, p := range m.st.periods {
		if p.CompanyID == companyID && p.Covers(date) {
			return p, nil
		}
	}
	return periods.Period{}, ledgererr.ErrPeriodNotFound
}

func (m memPeriods) LastBefore(ctx context.Context, companyID int64, date time.Time) (*periods.Period, error) {
	var best *periods.Period
	for i := range m.st.periods {
		p := m.st.periods[i]
		if p.CompanyID == companyID && p.EndDate.Before(periods.Day(date)) && (best == nil || p.EndDate.After(best.EndDate)) {
			best = &p
		}
	}
	return best, nil
}

func (m memPeriods) FirstAfter(ctx context.Context, companyID int64, date time.Time) (*periods.Period, error) {
	var best *periods.Period
	for i := range m.st.periods {
		p := m.st.periods[i]
		if p.CompanyID == companyID && p.StartDate.After(periods.Day(date)) && (best == nil || p.StartDate.Before(best.StartDate)) {
			best = &p
		}
	}
	return best, nil
}

func (m memPeriods) List(ctx context.Context, companyID int64) ([]periods.Period, error) {
	var out []periods.Period
	for _, p := range m.st.periods {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m memPeriods) Insert(ctx context.Context, p periods.Period) (periods.Period, error) {
	p.ID = m.st.id()
	m.st.periods = append(m.st.periods, p)
	return p, nil
}

func (m memPeriods) SetStatus(ctx context.Context, id int64, status periods.PeriodStatus, actor *int64, at *time.Time) error {
	for i := range m.st.periods {
		if m.st.periods[i].ID == id {
			m.st.periods[i].Status = status
			m.st.periods[i].ClosedBy = actor
			m.st.periods[i].ClosedAt = at
			return nil
		}
	}
	return ledgererr.ErrPeriodNotFound
}

type memJournals struct{ st *memState }

func (m memJournals) NextSequence(ctx context.Context, companyID int64, prefix string, year int) (int64, error) {
	key := fmt.Sprintf("%d/%s/%d", companyID, prefix, year)
	m.st.seqs[key]++
	return m.st.seqs[key], nil
}

func (m memJournals) Insert(ctx context.Context, j journals.Journal) (journals.Journal, error) {
	for _, existing := range m.st.journals {
		if existing.CompanyID != j.CompanyID {
			continue
		}
		if existing.Reference == j.Reference {
			return journals.Journal{}, ledgererr.ErrConcurrencyConflict
		}
		if j.SourceID != nil && existing.SourceID != nil && existing.SourceModule == j.SourceModule && *existing.SourceID == *j.SourceID {
			return journals.Journal{}, ledgererr.ErrSourceAlreadyLinked
		}
	}
	j.ID = m.st.id()
	j.Lines = append([]journals.Line(nil), j.Lines...)
	for i := range j.Lines {
		j.Lines[i].ID = m.st.id()
		j.Lines[i].JournalID = j.ID
	}
	m.st.journals = append(m.st.journals, j)
	return j, nil
}

func (m memJournals) index(companyID, id int64) int {
	for i, j := range m.st.journals {
		if j.ID == id && j.CompanyID == companyID {
			return i
		}
	}
	return -1
}

func (m memJournals) Get(ctx context.Context, companyID, id int64) (journals.Journal, error) {
	i := m.index(companyID, id)
	if i < 0 {
		return journals.Journal{}, ledgererr.ErrJournalNotFound
	}
	j := m.st.journals[i]
	j.Lines = append([]journals.Line(nil), j.Lines...)
	return j, nil
}

func (m memJournals) GetForUpdate(ctx context.Context, companyID, id int64) (journals.Journal, error) {
	return m.Get(ctx, companyID, id)
}

func (m memJournals) byID(id int64) *journals.Journal {
	for i := range m.st.journals {
		if m.st.journals[i].ID == id {
			return &m.st.journals[i]
		}
	}
	return nil
}

func (m memJournals) MarkPosted(ctx context.Context, id, actorID int64, at time.Time) error {
	j := m.byID(id)
	if j == nil || j.Status != journals.StatusDraft {
		return ledgererr.ErrNotDraft
	}
	j.Status = journals.StatusPosted
	j.PostedAt, j.PostedBy = &at, &actorID
	return nil
}

func (m memJournals) MarkVoided(ctx context.Context, id, reversalID, actorID int64, reason string, at time.Time) error {
	j := m.byID(id)
	if j == nil || j.Status != journals.StatusPosted || j.ReversedBy != nil {
		return ledgererr.ErrNotVoidable
	}
	j.Status = journals.StatusVoided
	j.ReversedBy = &reversalID
	j.VoidedAt, j.VoidedBy, j.VoidReason = &at, &actorID, reason
	return nil
}

type memBalances struct{ tx *memTx }

func (m memBalances) index(key balances.Key) int {
	for i, row := range m.tx.st.balances {
		if sameKey(row.Key, key) {
			return i
		}
	}
	return -1
}

func (m memBalances) Find(ctx context.Context, key balances.Key) (balances.Balance, bool, error) {
	if i := m.index(key); i >= 0 {
		return m.tx.st.balances[i], true, nil
	}
	return balances.Balance{}, false, nil
}

func (m memBalances) CreateZero(ctx context.Context, companyID int64, key balances.Key) error {
	if m.index(key) >= 0 {
		return nil
	}
	row := balances.Zero(companyID, key)
	row.ID = m.tx.st.id()
	row.Version = 1
	m.tx.st.balances = append(m.tx.st.balances, row)
	return nil
}

func (m memBalances) Update(ctx context.Context, b balances.Balance, expected int64) error {
	i := m.index(b.Key)
	if i < 0 {
		return ledgererr.ErrConcurrencyConflict
	}
	if m.tx.ledger.interfere > 0 {
		m.tx.ledger.interfere--
		m.tx.st.balances[i].Version++
	}
	if m.tx.st.balances[i].Version != expected {
		return ledgererr.ErrConcurrencyConflict
	}
	b.Version = expected + 1
	m.tx.st.balances[i] = b
	return nil
}

func (m memBalances) Insert(ctx context.Context, b balances.Balance) error {
	if m.index(b.Key) >= 0 {
		return ledgererr.ErrConcurrencyConflict
	}
	b.ID = m.tx.st.id()
	m.tx.st.balances = append(m.tx.st.balances, b)
	return nil
}

func (m memBalances) ListByPeriod(ctx context.Context, periodID int64) ([]balances.Balance, error) {
	var out []balances.Balance
	for _, row := range m.tx.st.balances {
		if row.Key.PeriodID == periodID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m memBalances) DeleteByPeriod(ctx context.Context, periodID int64) (int64, error) {
	kept := make([]balances.Balance, 0, len(m.tx.st.balances))
	var deleted int64
	for _, row := range m.tx.st.balances {
		if row.Key.PeriodID == periodID {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	m.tx.st.balances = kept
	return deleted, nil
}

func (m memBalances) collect(companyID int64, match func(journals.Journal) bool) []balances.Movement {
	var out []balances.Movement
	for _, j := range m.tx.st.journals {
		if j.CompanyID != companyID || (j.Status != journals.StatusPosted && j.Status != journals.StatusVoided) || !match(j) {
			continue
		}
		for _, line := range j.Lines {
			found := false
			for i := range out {
				if out[i].AccountID == line.AccountID && sameBranch(out[i].BranchID, j.BranchID) {
					out[i].Debit = out[i].Debit.Add(line.Debit)
					out[i].Credit = out[i].Credit.Add(line.Credit)
					found = true
					break
				}
			}
			if !found {
				out = append(out, balances.Movement{AccountID: line.AccountID, BranchID: j.BranchID, Debit: line.Debit, Credit: line.Credit})
			}
		}
	}
	return out
}

func (m memBalances) PeriodMovements(ctx context.Context, companyID, periodID int64) ([]balances.Movement, error) {
	return m.collect(companyID, func(j journals.Journal) bool { return j.PeriodID == periodID }), nil
}

func (m memBalances) MovementsBetween(ctx context.Context, companyID int64, from, to time.Time) ([]balances.Movement, error) {
	return m.collect(companyID, func(j journals.Journal) bool {
		day := periods.Day(j.Date)
		return !day.Before(periods.Day(from)) && !day.After(periods.Day(to))
	}), nil
}

func (m memBalances) SumPosted(ctx context.Context, companyID, accountID int64, branchID *int64, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, mv := range m.collect(companyID, func(j journals.Journal) bool { return !periods.Day(j.Date).After(periods.Day(asOf)) }) {
		if mv.AccountID != accountID || (branchID != nil && !sameBranch(mv.BranchID, branchID)) {
			continue
		}
		debit = debit.Add(mv.Debit)
		credit = credit.Add(mv.Credit)
	}
	return debit, credit, nil
}

type auditRecorder struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditRecorder) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, log := range a.logs {
		out = append(out, log.Action)
	}
	return out
}
