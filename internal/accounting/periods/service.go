package periods

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Registry resolves, creates and transitions accounting periods.
type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

func (r *Registry) Get(ctx context.Context, companyID, id int64) (Period, error) {
	return r.store.Get(ctx, companyID, id)
}

func (r *Registry) List(ctx context.Context, companyID int64) ([]Period, error) {
	return r.store.List(ctx, companyID)
}

// ResolveOrCreate returns the period covering date, creating an open
// calendar-month period when none exists.
func (r *Registry) ResolveOrCreate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	period, err := r.store.FindCovering(ctx, companyID, date)
	if err == nil {
		return period, nil
	}
	if !errors.Is(err, shared.ErrPeriodNotFound) {
		return Period{}, err
	}
	prev, err := r.store.LastBefore(ctx, companyID, date)
	if err != nil {
		return Period{}, err
	}
	next, err := r.store.FirstAfter(ctx, companyID, date)
	if err != nil {
		return Period{}, err
	}
	start, end := MonthWindow(date, prev, next)
	return r.store.Insert(ctx, Period{
		CompanyID: companyID,
		Name:      DefaultName(start),
		StartDate: start,
		EndDate:   end,
		Status:    PeriodStatusOpen,
	})
}

// Create registers an explicit window after checking for overlaps.
func (r *Registry) Create(ctx context.Context, companyID int64, name string, start, end time.Time) (Period, error) {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return Period{}, shared.Invalid("end_date", "must not precede start_date")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(start)
	}
	existing, err := r.store.List(ctx, companyID)
	if err != nil {
		return Period{}, err
	}
	for _, p := range existing {
		if p.Overlaps(start, end) {
			return Period{}, fmt.Errorf("%w: %s", shared.ErrPeriodOverlap, p.Name)
		}
	}
	return r.store.Insert(ctx, Period{CompanyID: companyID, Name: name, StartDate: start, EndDate: end, Status: PeriodStatusOpen})
}

// Next returns the chronologically following period, or nil.
func (r *Registry) Next(ctx context.Context, p Period) (*Period, error) {
	return r.store.FirstAfter(ctx, p.CompanyID, p.EndDate)
}

// Previous returns the chronologically preceding period, or nil.
func (r *Registry) Previous(ctx context.Context, p Period) (*Period, error) {
	return r.store.LastBefore(ctx, p.CompanyID, p.StartDate)
}

// Transition moves a period to status, stamping the actor when closing.
func (r *Registry) Transition(ctx context.Context, p Period, status PeriodStatus, actorID int64, at time.Time) (Period, error) {
	if !p.Status.CanTransition(status) {
		return Period{}, fmt.Errorf("%w: period %s %s -> %s", shared.ErrInvalidStatus, p.Name, p.Status, status)
	}
	var actor *int64
	var closedAt *time.Time
	if status == PeriodStatusClosed {
		actor, closedAt = &actorID, &at
	}
	if err := r.store.SetStatus(ctx, p.ID, status, actor, closedAt); err != nil {
		return Period{}, err
	}
	p.Status, p.ClosedBy, p.ClosedAt = status, actor, closedAt
	return p, nil
}
