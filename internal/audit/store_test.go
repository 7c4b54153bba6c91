package audit

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/raaihank/glasslm/internal/privacy"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	store := NewStoreWithDB(sqlx.NewDb(db, "postgres"), zap.NewNop())
	t.Cleanup(func() {
		mock.ExpectClose()
		store.Close()
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
	return store, mock
}

var meta = Meta{RequestID: "req-1", SessionID: "sess-1", Provider: "openai"}

func TestMigrate(t *testing.T) {
	store, mock := newMockStore(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
}

func TestRecordMasking(t *testing.T) {
	store, mock := newMockStore(t)
	items := []privacy.MaskedItem{
		{Original: "jane@acmecorp.com", Placeholder: "[[EMAIL_1]]", Category: privacy.CategoryEmail, Confidence: privacy.ConfidenceHigh},
		{Original: "Jane Doe", Placeholder: "[[NAME_1]]", Category: privacy.CategoryName, Confidence: privacy.ConfidenceMedium},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO masking_events")).
		WithArgs(
			"req-1", "sess-1", "openai", "email", "[[EMAIL_1]]", "high",
			"req-1", "sess-1", "openai", "name", "[[NAME_1]]", "medium",
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := store.RecordMasking(context.Background(), meta, items)
	if err != nil {
		t.Fatalf("RecordMasking failed: %v", err)
	}
	if result.Inserted != 2 {
		t.Errorf("expected 2 rows, got %d", result.Inserted)
	}
}

func TestRecordMaskingEmpty(t *testing.T) {
	store, _ := newMockStore(t)
	result, err := store.RecordMasking(context.Background(), meta, nil)
	if err != nil || result.Inserted != 0 {
		t.Errorf("expected no-op, got %+v %v", result, err)
	}
}

func TestRecordLeakage(t *testing.T) {
	store, mock := newMockStore(t)
	warnings := []privacy.LeakageWarning{{
		Kind:        privacy.LeakageDirect,
		Severity:    privacy.SeverityHigh,
		Category:    privacy.CategorySSN,
		Description: "Masked ssn value appears in response",
		MatchedText: "555-12-6789",
	}}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO leakage_events")).
		WithArgs("req-1", "sess-1", "openai", "direct", "high", "ssn", "Masked ssn value appears in response").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := store.RecordLeakage(context.Background(), meta, warnings); err != nil {
		t.Fatalf("RecordLeakage failed: %v", err)
	}
}

func TestRecordLeakageError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO leakage_events").WillReturnError(context.DeadlineExceeded)

	_, err := store.RecordLeakage(context.Background(), meta, []privacy.LeakageWarning{{Kind: privacy.LeakageDirect}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSummarize(t *testing.T) {
	store, mock := newMockStore(t)
	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("(SELECT COUNT(*) FROM masking_events")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"masked", "leakage"}).AddRow(12, 3))
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY category")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"category", "count"}).
			AddRow("email", 8).
			AddRow("name", 4))

	summary, err := store.Summarize(context.Background(), since)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.TotalMasked != 12 || summary.TotalLeakage != 3 {
		t.Errorf("unexpected totals %+v", summary)
	}
	if len(summary.ByCategory) != 2 || summary.ByCategory[0].Category != "email" || summary.ByCategory[0].Count != 8 {
		t.Errorf("unexpected categories %+v", summary.ByCategory)
	}
}

func TestRecentMasking(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM masking_events")).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "request_id", "session_id", "provider", "category", "placeholder", "confidence", "created_at"}).
			AddRow(7, "req-1", "", "", "email", "[[EMAIL_1]]", "high", created))

	events, err := store.RecentMasking(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentMasking failed: %v", err)
	}
	if len(events) != 1 || events[0].Placeholder != "[[EMAIL_1]]" || events[0].ID != 7 {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestPurge(t *testing.T) {
	store, mock := newMockStore(t)
	before := time.Now()

	mock.ExpectExec("DELETE FROM masking_events").WithArgs(before).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM leakage_events").WithArgs(before).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := store.Purge(context.Background(), before)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 deleted, got %d", n)
	}
}

func TestStartRetention(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM masking_events").WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM leakage_events").WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartRetention(ctx, 24*time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for mock.ExpectationsWereMet() != nil {
		if time.Now().After(deadline) {
			t.Fatal("retention purge did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Zero retention keeps everything
	store.StartRetention(ctx, 0)
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://glass:secret@db:5432/audit", "postgres://glass:***@db:5432/audit"},
		{"postgres://glass@db/audit", "postgres://glass@db/audit"},
		{"postgres://db/audit", "postgres://db/audit"},
	}
	for _, tt := range tests {
		if got := maskDatabaseURL(tt.in); got != tt.want {
			t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(1, 3); got != "($4, $5, $6)" {
		t.Errorf("unexpected placeholders %q", got)
	}
}
