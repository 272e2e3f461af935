package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// PeriodArgs are the flags shared by period maintenance commands.
type PeriodArgs struct {
	CompanyID int64
	PeriodID  int64
	ActorID   int64
}

// ParsePeriodArgs reads -company, -period and -actor. The period is optional
// only when allowAllPeriods is set.
func ParsePeriodArgs(name string, args []string, allowAllPeriods bool) (PeriodArgs, error) {
	var out PeriodArgs
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Int64Var(&out.CompanyID, "company", 0, "company id")
	fs.Int64Var(&out.PeriodID, "period", 0, "period id")
	fs.Int64Var(&out.ActorID, "actor", 1, "actor id recorded in the audit log")
	if err := fs.Parse(args); err != nil {
		return PeriodArgs{}, fmt.Errorf("%s: %w", name, err)
	}
	if out.CompanyID <= 0 {
		return PeriodArgs{}, fmt.Errorf("%s: -company is required", name)
	}
	if out.PeriodID <= 0 && !allowAllPeriods {
		return PeriodArgs{}, fmt.Errorf("%s: -period is required", name)
	}
	if out.ActorID <= 0 {
		return PeriodArgs{}, fmt.Errorf("%s: -actor must be positive", name)
	}
	return out, nil
}

// LedgerService is the part of the ledger the operator commands call.
type LedgerService interface {
	ClosePeriod(ctx context.Context, scope shared.TenantScope, periodID int64) (accounting.CloseResult, error)
	RebuildPeriodBalances(ctx context.Context, scope shared.TenantScope, periodID int64) (accounting.RebuildResult, error)
	CheckIntegrity(ctx context.Context, scope shared.TenantScope, periodID int64) (accounting.IntegrityReport, error)
}

// ErrUnhealthy is returned when an integrity check finds anomalies.
var ErrUnhealthy = errors.New("ledger: integrity check found anomalies")

// LedgerCLI runs period maintenance in-process and prints JSON results.
type LedgerCLI struct {
	service LedgerService
	out     io.Writer
}

// NewLedgerCLI builds the operator helper.
func NewLedgerCLI(service LedgerService, out io.Writer) *LedgerCLI {
	return &LedgerCLI{service: service, out: out}
}

// ClosePeriod closes a period and prints the carry-forward summary.
func (c *LedgerCLI) ClosePeriod(ctx context.Context, args PeriodArgs) error {
	result, err := c.service.ClosePeriod(ctx, scope(args), args.PeriodID)
	if err != nil {
		return err
	}
	return c.print(result)
}

// RebuildPeriod regenerates balances and prints the row counts.
func (c *LedgerCLI) RebuildPeriod(ctx context.Context, args PeriodArgs) error {
	result, err := c.service.RebuildPeriodBalances(ctx, scope(args), args.PeriodID)
	if err != nil {
		return err
	}
	return c.print(result)
}

// Integrity prints the report and fails when the period is unhealthy.
func (c *LedgerCLI) Integrity(ctx context.Context, args PeriodArgs) error {
	report, err := c.service.CheckIntegrity(ctx, scope(args), args.PeriodID)
	if err != nil {
		return err
	}
	if err := c.print(report); err != nil {
		return err
	}
	if !report.Healthy() {
		return fmt.Errorf("%w: %d", ErrUnhealthy, len(report.Anomalies))
	}
	return nil
}

func (c *LedgerCLI) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func scope(args PeriodArgs) shared.TenantScope {
	return shared.TenantScope{CompanyID: args.CompanyID, ActorID: args.ActorID}
}
