package accounting

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	ledgererr "github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PeriodLocker serialises close and rebuild of one period across processes.
type PeriodLocker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// BalanceCache serves balance snapshots and is invalidated per company.
type BalanceCache interface {
	Snapshot(ctx context.Context, companyID int64, key balances.Key, loader func(context.Context) (balances.Snapshot, error)) (balances.Snapshot, error)
	Bump(ctx context.Context, companyID int64) error
}

// Service coordinates entry creation, posting, voiding and period maintenance.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	locker  PeriodLocker
	cache   BalanceCache
	metrics *Metrics
	logger  *slog.Logger
	retry   RetryPolicy
	now     func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, retry: DefaultRetryPolicy(), now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithLocker enables cross-process locking of period maintenance.
func (s *Service) WithLocker(locker PeriodLocker) {
	s.locker = locker
}

// WithCache enables the balance snapshot cache.
func (s *Service) WithCache(cache BalanceCache) {
	s.cache = cache
}

// WithMetrics attaches Prometheus collectors.
func (s *Service) WithMetrics(metrics *Metrics) {
	s.metrics = metrics
}

// WithRetry replaces the conflict retry policy.
func (s *Service) WithRetry(policy RetryPolicy) {
	s.retry = policy
}

func checkScope(scope shared.TenantScope) error {
	if err := scope.Validate(); err != nil {
		return ledgererr.Invalid("tenant", "%v", err)
	}
	return nil
}

// CreateEntry stores a draft entry in the period covering its date. Drafts
// do not touch balances.
func (s *Service) CreateEntry(ctx context.Context, scope shared.TenantScope, in journals.CreateInput) (journals.Journal, error) {
	if err := checkScope(scope); err != nil {
		return journals.Journal{}, err
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		return journals.Journal{}, err
	}
	var entry journals.Journal
	err := s.unit(ctx, "create_entry", func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.createDraft(ctx, tx, scope, in, nil)
		return err
	})
	if err != nil {
		return journals.Journal{}, err
	}
	meta := map[string]any{
		"reference": entry.Reference,
		"type":      string(entry.Type),
		"period_id": entry.PeriodID,
		"total":     entry.TotalDebit.String(),
	}
	if entry.SourceID != nil {
		meta["source_module"] = entry.SourceModule
		meta["source_id"] = entry.SourceID.String()
	}
	s.record(ctx, scope, "journal.create", "journal_entry", entry.ID, meta)
	return entry, nil
}

func (s *Service) createDraft(ctx context.Context, tx TxRepository, scope shared.TenantScope, in journals.CreateInput, reversalOf *int64) (journals.Journal, error) {
	found, err := tx.Accounts().GetMany(ctx, scope.CompanyID, in.AccountIDs())
	if err != nil {
		return journals.Journal{}, err
	}
	for i, line := range in.Lines {
		if _, ok := found[line.AccountID]; !ok {
			return journals.Journal{}, ledgererr.Invalid(fmt.Sprintf("lines[%d].account_id", i), "unknown account %d", line.AccountID)
		}
	}
	period, err := periods.NewRegistry(tx.Periods()).ResolveOrCreate(ctx, scope.CompanyID, in.Date)
	if err != nil {
		return journals.Journal{}, err
	}
	prefix := in.Type.Prefix()
	year := periods.Day(in.Date).Year()
	seq, err := tx.Journals().NextSequence(ctx, scope.CompanyID, prefix, year)
	if err != nil {
		return journals.Journal{}, err
	}
	draft := in.Draft(scope.CompanyID, scope.BranchID, period.ID, journals.FormatReference(prefix, year, seq), scope.ActorID)
	draft.ReversalOf = reversalOf
	return tx.Journals().Insert(ctx, draft)
}

// PostEntry commits a draft to the balances of its period. The checks run in
// a fixed order and the first failure wins: status, balance, period state,
// then account postability. Nothing is written unless every check passes.
func (s *Service) PostEntry(ctx context.Context, scope shared.TenantScope, entryID int64) (journals.Journal, error) {
	if err := checkScope(scope); err != nil {
		return journals.Journal{}, err
	}
	var entry journals.Journal
	err := s.unit(ctx, "post_entry", func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.post(ctx, tx, scope, entryID)
		return err
	})
	if err != nil {
		s.logger.InfoContext(ctx, "journal post rejected",
			slog.Int64("company_id", scope.CompanyID),
			slog.Int64("journal_id", entryID),
			slog.Any("error", err))
		return journals.Journal{}, err
	}
	s.invalidate(ctx, scope.CompanyID)
	s.record(ctx, scope, "journal.post", "journal_entry", entry.ID, map[string]any{
		"reference": entry.Reference,
		"period_id": entry.PeriodID,
		"total":     entry.TotalDebit.String(),
	})
	return entry, nil
}

func (s *Service) post(ctx context.Context, tx TxRepository, scope shared.TenantScope, entryID int64) (journals.Journal, error) {
	entry, err := tx.Journals().GetForUpdate(ctx, scope.CompanyID, entryID)
	if err != nil {
		return journals.Journal{}, err
	}
	if !entry.Status.CanTransition(journals.StatusPosted) {
		return journals.Journal{}, fmt.Errorf("%w: %s is %s", ledgererr.ErrNotDraft, entry.Reference, entry.Status)
	}
	debit, credit := journals.Totals(entry.Lines)
	if !entry.Balanced() {
		return journals.Journal{}, &ledgererr.UnbalancedError{Debit: debit, Credit: credit}
	}
	period, err := tx.Periods().GetForShare(ctx, scope.CompanyID, entry.PeriodID)
	if err != nil {
		return journals.Journal{}, err
	}
	if !period.IsOpen() {
		return journals.Journal{}, &ledgererr.ClosedPeriodError{PeriodID: period.ID, Name: period.Name}
	}
	if err := checkPostable(ctx, tx.Accounts(), scope.CompanyID, entry); err != nil {
		return journals.Journal{}, err
	}

	at := s.now()
	if err := tx.Journals().MarkPosted(ctx, entry.ID, scope.ActorID, at); err != nil {
		return journals.Journal{}, err
	}
	agg := balances.NewAggregator(tx.Balances())
	for _, line := range entry.Lines {
		key := balances.Key{AccountID: line.AccountID, PeriodID: period.ID, BranchID: entry.BranchID}
		if _, err := agg.Apply(ctx, scope.CompanyID, key, line.Debit, line.Credit); err != nil {
			return journals.Journal{}, err
		}
	}
	actor := scope.ActorID
	entry.Status = journals.StatusPosted
	entry.PostedAt = &at
	entry.PostedBy = &actor
	entry.TotalDebit, entry.TotalCredit = debit, credit
	return entry, nil
}

func checkPostable(ctx context.Context, store accounts.Store, companyID int64, entry journals.Journal) error {
	found, err := store.GetMany(ctx, companyID, entry.AccountIDs())
	if err != nil {
		return err
	}
	for _, line := range entry.Lines {
		acc, ok := found[line.AccountID]
		if !ok {
			return fmt.Errorf("%w: %d", ledgererr.ErrAccountNotFound, line.AccountID)
		}
		if !acc.Postable() {
			return &ledgererr.NonPostableAccountError{AccountID: acc.ID, Code: acc.Code}
		}
	}
	return nil
}

// VoidEntry posts a mirror-image reversal dated now and marks the original
// VOIDED. Both entries reference each other. The returned journal is the
// reversal.
func (s *Service) VoidEntry(ctx context.Context, scope shared.TenantScope, entryID int64, reason string) (journals.Journal, error) {
	if err := checkScope(scope); err != nil {
		return journals.Journal{}, err
	}
	reason = strings.TrimSpace(reason)
	var original, reversal journals.Journal
	err := s.unit(ctx, "void_entry", func(ctx context.Context, tx TxRepository) error {
		var err error
		original, err = tx.Journals().GetForUpdate(ctx, scope.CompanyID, entryID)
		if err != nil {
			return err
		}
		if !original.Status.CanTransition(journals.StatusVoided) || original.ReversedBy != nil || original.ReversalOf != nil {
			return fmt.Errorf("%w: %s is %s", ledgererr.ErrNotVoidable, original.Reference, original.Status)
		}
		at := s.now()
		in := journals.ReversalInput(original, at)
		in.Normalize()
		// The reversal must hit the same branch rows as the original.
		reversalScope := scope
		reversalScope.BranchID = original.BranchID
		draft, err := s.createDraft(ctx, tx, reversalScope, in, &original.ID)
		if err != nil {
			return err
		}
		reversal, err = s.post(ctx, tx, reversalScope, draft.ID)
		if err != nil {
			return err
		}
		return tx.Journals().MarkVoided(ctx, original.ID, reversal.ID, scope.ActorID, reason, at)
	})
	if err != nil {
		return journals.Journal{}, err
	}
	s.invalidate(ctx, scope.CompanyID)
	s.record(ctx, scope, "journal.void", "journal_entry", original.ID, map[string]any{
		"reference":          original.Reference,
		"reason":             reason,
		"reversal_id":        reversal.ID,
		"reversal_reference": reversal.Reference,
	})
	return reversal, nil
}

// GetEntry returns an entry with its lines.
func (s *Service) GetEntry(ctx context.Context, scope shared.TenantScope, entryID int64) (journals.Journal, error) {
	if err := checkScope(scope); err != nil {
		return journals.Journal{}, err
	}
	var entry journals.Journal
	err := s.read(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.Journals().Get(ctx, scope.CompanyID, entryID)
		return err
	})
	return entry, err
}

// GetBalance returns the stored totals of one (account, period, branch) row.
// A nil branch selects the company-level row. Missing rows read as zero.
func (s *Service) GetBalance(ctx context.Context, scope shared.TenantScope, accountID, periodID int64, branchID *int64) (balances.Snapshot, error) {
	if err := checkScope(scope); err != nil {
		return balances.Snapshot{}, err
	}
	key := balances.Key{AccountID: accountID, PeriodID: periodID, BranchID: branchID}
	loader := func(ctx context.Context) (balances.Snapshot, error) {
		var snap balances.Snapshot
		err := s.read(ctx, func(ctx context.Context, tx TxRepository) error {
			acc, err := tx.Accounts().Get(ctx, scope.CompanyID, accountID)
			if err != nil {
				return err
			}
			if _, err := tx.Periods().Get(ctx, scope.CompanyID, periodID); err != nil {
				return err
			}
			row, ok, err := tx.Balances().Find(ctx, key)
			if err != nil {
				return err
			}
			if !ok {
				row = balances.Zero(scope.CompanyID, key)
			}
			snap = balances.NewSnapshot(row, acc.Type)
			return nil
		})
		return snap, err
	}
	if s.cache == nil {
		return loader(ctx)
	}
	return s.cache.Snapshot(ctx, scope.CompanyID, key, loader)
}

// GetBalanceAtDate sums posted lines up to and including date. A nil branch
// aggregates every branch.
func (s *Service) GetBalanceAtDate(ctx context.Context, scope shared.TenantScope, accountID int64, date time.Time, branchID *int64) (balances.PointBalance, error) {
	if err := checkScope(scope); err != nil {
		return balances.PointBalance{}, err
	}
	if date.IsZero() {
		return balances.PointBalance{}, ledgererr.Invalid("date", "required")
	}
	var point balances.PointBalance
	err := s.read(ctx, func(ctx context.Context, tx TxRepository) error {
		acc, err := tx.Accounts().Get(ctx, scope.CompanyID, accountID)
		if err != nil {
			return err
		}
		point, err = balances.NewAggregator(tx.Balances()).BalanceAtDate(ctx, acc, date, branchID)
		return err
	})
	return point, err
}

// ListPeriodBalances returns every balance row of the period.
func (s *Service) ListPeriodBalances(ctx context.Context, scope shared.TenantScope, periodID int64) ([]balances.Snapshot, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}
	var out []balances.Snapshot
	err := s.read(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Periods().Get(ctx, scope.CompanyID, periodID); err != nil {
			return err
		}
		chart, err := tx.Accounts().List(ctx, scope.CompanyID)
		if err != nil {
			return err
		}
		types := make(map[int64]accounts.AccountType, len(chart))
		for _, acc := range chart {
			types[acc.ID] = acc.Type
		}
		rows, err := tx.Balances().ListByPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		out = make([]balances.Snapshot, 0, len(rows))
		for _, row := range rows {
			out = append(out, balances.NewSnapshot(row, types[row.Key.AccountID]))
		}
		return nil
	})
	return out, err
}

func (s *Service) invalidate(ctx context.Context, companyID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, companyID); err != nil {
		s.logger.WarnContext(ctx, "balance cache bump failed", slog.Int64("company_id", companyID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, scope shared.TenantScope, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: scope.CompanyID,
		ActorID:   scope.ActorID,
		Action:    action,
		Entity:    entity,
		EntityID:  strconv.FormatInt(id, 10),
		Meta:      meta,
		At:        s.now(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
