package engine

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/havenchat/warden/cachestore"
	"github.com/havenchat/warden/classifier"
	"github.com/havenchat/warden/countstore"
	"github.com/havenchat/warden/idempotency"
	"github.com/havenchat/warden/models"
	"github.com/havenchat/warden/modqueue"
	"github.com/havenchat/warden/provider"
	"github.com/havenchat/warden/registry"
	"github.com/havenchat/warden/testutil"
)

// EngineTestFixture builds an engine wired to in-memory fakes and an
// in-memory sqlite database, with a small representative rule set loaded.
// Intentionally exported, for use in other packages' tests.
func EngineTestFixture() (*Engine, *provider.MockClient, *gorm.DB) {
	db := testutil.MustTestDB()

	rules := []models.KeywordRule{
		{ID: 1, Term: "suicide", Severity: models.SeverityHigh, Action: models.ActionEscalate, Enabled: true},
		{ID: 2, Term: "kill myself", Severity: models.SeverityHigh, Action: models.ActionEscalate, Enabled: true},
		{ID: 3, Term: "depressed", Severity: models.SeverityMedium, Action: models.ActionFlag, Enabled: true},
		{ID: 4, Term: "stress", Severity: models.SeverityLow, Action: models.ActionFlag, Enabled: true},
		{ID: 5, Term: `\bf+u+c*k+\b`, IsPattern: true, Severity: models.SeverityLow, Action: models.ActionFlag, Enabled: true},
	}
	reg := registry.NewRegistry(&registry.StaticSource{Rules: rules}, slog.Default())

	mock := provider.NewMockClient()
	eng := &Engine{
		Logger:     slog.Default(),
		Classifier: classifier.NewClassifier(reg, slog.Default()),
		Guard:      idempotency.NewMemGuard(),
		Queue:      modqueue.NewStore(db),
		Rooms:      NewMemRoomStore(),
		Provider:   mock,
		Notifier:   &CollectingNotifier{},
		Counters:   countstore.NewMemCountStore(),
		Cache:      cachestore.NewMemCacheStore(1000, 24*time.Hour),
		Async:      NewAsyncRunner(2, 64, slog.Default()),

		ActorID:         "warden",
		CrisisResources: []string{"Crisis Text Line: text HOME to 741741"},
	}
	return eng, mock, db
}

// NewTestMessageEvent builds a well-formed message.new event.
func NewTestMessageEvent(id, text, userID, cid string) *MessageEvent {
	return &MessageEvent{
		Type: EventTypeMessageNew,
		Message: EventMessage{
			ID:        id,
			Text:      text,
			User:      EventUser{ID: userID},
			CID:       cid,
			CreatedAt: time.Now(),
		},
	}
}
