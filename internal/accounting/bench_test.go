package accounting

import (
	"context"
	"testing"
)

func BenchmarkCreateAndPost(b *testing.B) {
	f := newFixture(b)
	date := day(2024, 1, 15)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.post(b, date, f.cash.ID, f.revenue.ID, 100)
	}
}

func BenchmarkGetBalanceAtDate(b *testing.B) {
	f := newFixture(b)
	for d := 1; d <= 28; d++ {
		f.post(b, day(2024, 1, d), f.cash.ID, f.revenue.ID, int64(d))
	}
	ctx := context.Background()
	asOf := day(2024, 1, 20)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.svc.GetBalanceAtDate(ctx, f.scope, f.cash.ID, asOf, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRebuildPeriod(b *testing.B) {
	f := newFixture(b)
	var periodID int64
	for d := 1; d <= 28; d++ {
		periodID = f.post(b, day(2024, 1, d), f.cash.ID, f.revenue.ID, int64(d)).PeriodID
	}
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.svc.RebuildPeriodBalances(ctx, f.scope, periodID); err != nil {
			b.Fatal(err)
		}
	}
}
