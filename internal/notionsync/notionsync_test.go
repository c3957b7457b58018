package notionsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/google/go-cmp/cmp"
	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MockNotionService is a mock implementation of NotionService for testing.
type MockNotionService struct {
	CreatePageFunc    func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePageFunc    func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabaseFunc func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	ArchivePageFunc   func(ctx context.Context, pageID string) error

	Created  []notionapi.Properties
	Updated  []string
	Archived []string
}

func (m *MockNotionService) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.CreatePageFunc != nil {
		return m.CreatePageFunc(ctx, databaseID, properties)
	}
	m.Created = append(m.Created, properties)
	return &notionapi.Page{ID: notionapi.ObjectID(fmt.Sprintf("new-%d", len(m.Created)))}, nil
}

func (m *MockNotionService) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.UpdatePageFunc != nil {
		return m.UpdatePageFunc(ctx, pageID, properties)
	}
	m.Updated = append(m.Updated, pageID)
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (m *MockNotionService) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if m.QueryDatabaseFunc != nil {
		return m.QueryDatabaseFunc(ctx, databaseID, req)
	}
	return &notionapi.DatabaseQueryResponse{}, nil
}

func (m *MockNotionService) ArchivePage(ctx context.Context, pageID string) error {
	if m.ArchivePageFunc != nil {
		return m.ArchivePageFunc(ctx, pageID)
	}
	m.Archived = append(m.Archived, pageID)
	return nil
}

type paymentSourceFunc func(ctx context.Context, userID string) ([]domain.RecurringPayment, error)

func (f paymentSourceFunc) ListRecurringPayments(ctx context.Context, userID string) ([]domain.RecurringPayment, error) {
	return f(ctx, userID)
}

func testContext() context.Context {
	return logger.WithContext(context.Background(), zerolog.Nop())
}

func keyedPage(id, key string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			propPaymentKey: &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: key}},
			},
		},
	}
}

func payment(key string) domain.RecurringPayment {
	return domain.RecurringPayment{
		ID:               "rp-" + key,
		UserID:           "user-1",
		NormalizedKey:    key,
		MerchantName:     key,
		Category:         "Entertainment",
		AverageAmount:    decimal.RequireFromString("-15.49"),
		TotalAmount:      decimal.RequireFromString("-46.47"),
		Frequency:        domain.FrequencyMonthly,
		Confidence:       0.9,
		LastPaymentDate:  civil.Date{Year: 2024, Month: 3, Day: 15},
		TransactionCount: 3,
	}
}

func staticSource(payments ...domain.RecurringPayment) PaymentSource {
	return paymentSourceFunc(func(context.Context, string) ([]domain.RecurringPayment, error) {
		return payments, nil
	})
}

func TestSyncRecurringPayments(t *testing.T) {
	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{
				keyedPage("page-netflix", "user-1:netflix"),
				keyedPage("page-gym", "user-1:pure gym"),
				keyedPage("page-other-user", "user-2:netflix"),
				keyedPage("page-unkeyed", ""),
			}}, nil
		},
	}

	res, err := SyncRecurringPayments(testContext(), staticSource(payment("netflix"), payment("spotify")), mock, "db-1", "user-1", false)
	if err != nil {
		t.Fatalf("SyncRecurringPayments: %v", err)
	}

	if diff := cmp.Diff(SyncResult{Created: 1, Updated: 1, Archived: 1}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"page-netflix"}, mock.Updated); diff != "" {
		t.Errorf("updated pages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"page-gym"}, mock.Archived); diff != "" {
		t.Errorf("archived pages mismatch (-want +got):\n%s", diff)
	}
	if len(mock.Created) != 1 {
		t.Fatalf("expected 1 created page, got %d", len(mock.Created))
	}
	key := mock.Created[0][propPaymentKey].(notionapi.RichTextProperty)
	if got := key.RichText[0].Text.Content; got != "user-1:spotify" {
		t.Errorf("created page key = %q, want user-1:spotify", got)
	}
}

func TestSyncRecurringPayments_DryRun(t *testing.T) {
	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{
				keyedPage("page-netflix", "user-1:netflix"),
				keyedPage("page-gym", "user-1:pure gym"),
			}}, nil
		},
		CreatePageFunc: func(context.Context, string, notionapi.Properties) (*notionapi.Page, error) {
			t.Fatal("CreatePage must not be called on a dry run")
			return nil, nil
		},
		UpdatePageFunc: func(context.Context, string, notionapi.Properties) (*notionapi.Page, error) {
			t.Fatal("UpdatePage must not be called on a dry run")
			return nil, nil
		},
		ArchivePageFunc: func(context.Context, string) error {
			t.Fatal("ArchivePage must not be called on a dry run")
			return nil
		},
	}

	res, err := SyncRecurringPayments(testContext(), staticSource(payment("netflix"), payment("spotify")), mock, "db-1", "user-1", true)
	if err != nil {
		t.Fatalf("SyncRecurringPayments: %v", err)
	}
	if diff := cmp.Diff(SyncResult{Created: 1, Updated: 1, Archived: 1}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncRecurringPayments_PageFailuresAreCounted(t *testing.T) {
	mock := &MockNotionService{
		CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
			return nil, errors.New("rate limited")
		},
	}

	res, err := SyncRecurringPayments(testContext(), staticSource(payment("netflix"), payment("spotify")), mock, "db-1", "user-1", false)
	if err != nil {
		t.Fatalf("SyncRecurringPayments: %v", err)
	}
	if res.Failed != 2 || res.Created != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestSyncRecurringPayments_Errors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("source", func(t *testing.T) {
		source := paymentSourceFunc(func(context.Context, string) ([]domain.RecurringPayment, error) {
			return nil, boom
		})
		if _, err := SyncRecurringPayments(testContext(), source, &MockNotionService{}, "db-1", "user-1", false); !errors.Is(err, boom) {
			t.Errorf("expected wrapped source error, got %v", err)
		}
	})

	t.Run("query", func(t *testing.T) {
		mock := &MockNotionService{
			QueryDatabaseFunc: func(context.Context, string, *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
				return nil, boom
			},
		}
		if _, err := SyncRecurringPayments(testContext(), staticSource(), mock, "db-1", "user-1", false); !errors.Is(err, boom) {
			t.Errorf("expected wrapped query error, got %v", err)
		}
	})
}

func TestQueryAllNotionPages_Paginates(t *testing.T) {
	var cursors []string
	mock := &MockNotionService{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			cursors = append(cursors, string(req.StartCursor))
			if req.StartCursor == "" {
				return &notionapi.DatabaseQueryResponse{
					Results:    []notionapi.Page{keyedPage("a", "user-1:a")},
					HasMore:    true,
					NextCursor: "next",
				}, nil
			}
			return &notionapi.DatabaseQueryResponse{
				Results: []notionapi.Page{keyedPage("b", "user-1:b")},
			}, nil
		},
	}

	pages, err := queryAllNotionPages(testContext(), mock, "db-1")
	if err != nil {
		t.Fatalf("queryAllNotionPages: %v", err)
	}

	var ids []string
	for _, p := range pages {
		ids = append(ids, string(p.ID))
	}
	sort.Strings(ids)
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Errorf("page IDs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"", "next"}, cursors); diff != "" {
		t.Errorf("cursors mismatch (-want +got):\n%s", diff)
	}
}

func TestPaymentToNotionProperties(t *testing.T) {
	p := payment("netflix")
	props := PaymentToNotionProperties(p)

	title := props[propMerchant].(notionapi.TitleProperty)
	if got := title.Title[0].Text.Content; got != "🎬 netflix" {
		t.Errorf("title = %q", got)
	}
	if got := props[propFrequency].(notionapi.SelectProperty).Select.Name; got != "monthly" {
		t.Errorf("frequency = %q", got)
	}
	if got := props[propCategory].(notionapi.SelectProperty).Select.Name; got != "entertainment" {
		t.Errorf("category = %q", got)
	}
	if got := props[propMonthly].(notionapi.NumberProperty).Number; got != -15.49 {
		t.Errorf("monthly equivalent = %v", got)
	}
	if got := props[propCount].(notionapi.NumberProperty).Number; got != 3 {
		t.Errorf("occurrences = %v", got)
	}
	if _, ok := props[propLastPaid]; !ok {
		t.Error("expected a last payment date")
	}

	p.Category = ""
	p.MerchantName = ""
	p.LastPaymentDate = civil.Date{}
	props = PaymentToNotionProperties(p)
	if _, ok := props[propCategory]; ok {
		t.Error("expected no category property for an uncategorized payment")
	}
	if _, ok := props[propLastPaid]; ok {
		t.Error("expected no date property without a last payment")
	}
	if got := props[propMerchant].(notionapi.TitleProperty).Title[0].Text.Content; got != "💳 netflix" {
		t.Errorf("fallback title = %q", got)
	}
}

func TestNotionClient_CancelledContext(t *testing.T) {
	client := NewNotionClient("secret_test")
	ctx, cancel := context.WithCancel(testContext())
	cancel()

	if err := client.ArchivePage(ctx, "page-1"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled before any request, got %v", err)
	}
}
