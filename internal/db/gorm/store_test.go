package gorm

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/thebtf/twentyq/pkg/models"
	"github.com/thebtf/twentyq/pkg/similarity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{
		Driver:   DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "twentyq.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))

	var journalMode string
	require.NoError(t, store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)

	for _, table := range []string{"questions", "domain_questions", "domain_guesses", "game_history", "game_questions"} {
		assert.True(t, store.DB.Migrator().HasTable(table), "table %q does not exist", table)
	}
}

func TestMigrationIdempotency(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "twentyq.db")
	cfg := Config{DSN: dsn, LogLevel: logger.Silent}

	store1, err := NewStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := NewStore(cfg)
	require.NoError(t, err)
	defer store2.Close()

	var applied int64
	require.NoError(t, store2.DB.Table("migrations").Count(&applied).Error)
	assert.Equal(t, int64(3), applied)
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := NewStore(Config{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", sqliteDSN("a.db"))
	assert.Equal(t, "a.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", sqliteDSN("a.db?mode=rwc"))
	assert.Equal(t, "a.db?_pragma=foreign_keys(1)", sqliteDSN("a.db?_pragma=foreign_keys(1)"))
}

// StoresSuite exercises the question, cache and history stores on one database.
type StoresSuite struct {
	suite.Suite
	store     *Store
	questions *QuestionStore
	cache     *DomainCacheStore
	guesses   *GuessCacheStore
	history   *HistoryStore
	ctx       context.Context
}

func (s *StoresSuite) SetupTest() {
	s.store = newTestStore(s.T())
	s.questions = NewQuestionStore(s.store)
	s.cache = NewDomainCacheStore(s.store)
	s.guesses = NewGuessCacheStore(s.store)
	s.history = NewHistoryStore(s.store)
	s.ctx = context.Background()
}

func TestStoresSuite(t *testing.T) {
	suite.Run(t, new(StoresSuite))
}

func (s *StoresSuite) question(text string) int64 {
	id, err := s.questions.FindOrCreate(s.ctx, text, models.OriginGenerated)
	s.Require().NoError(err)
	return id
}

func (s *StoresSuite) TestFindOrCreateIsIdempotent() {
	id1 := s.question("Is it a mammal?")
	id2, err := s.questions.FindOrCreate(s.ctx, "Is it a mammal?", models.OriginEmergency)
	s.Require().NoError(err)
	s.Equal(id1, id2)

	q, err := s.questions.GetQuestion(s.ctx, id1)
	s.Require().NoError(err)
	s.Equal("Is it a mammal?", q.Text)
	s.Equal(models.OriginGenerated, q.Origin, "first writer's origin is kept")
	s.Nil(q.LastUsed)

	var count int64
	s.Require().NoError(s.store.DB.Model(&Question{}).Count(&count).Error)
	s.Equal(int64(1), count)
}

func (s *StoresSuite) TestFindOrCreateConcurrent() {
	var wg sync.WaitGroup
	ids := make([]int64, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = s.questions.FindOrCreate(s.ctx, "Does it fly?", models.OriginGenerated)
		}(i)
	}
	wg.Wait()

	for i := range ids {
		s.NoError(errs[i])
		s.Equal(ids[0], ids[i])
	}
}

func (s *StoresSuite) TestGetTextMissing() {
	_, err := s.questions.GetText(s.ctx, 999)
	s.ErrorIs(err, models.ErrQuestionNotFound)
}

func (s *StoresSuite) TestNextQuestionMiss() {
	q, err := s.cache.NextQuestion(s.ctx, "animal", 0, nil)
	s.NoError(err)
	s.Nil(q)
}

func (s *StoresSuite) TestNextQuestionRanking() {
	low := s.question("Is it small?")
	high := s.question("Is it a mammal?")
	busy := s.question("Does it live in water?")
	other := s.question("Is it a pet?")

	for _, id := range []int64{low, high, busy} {
		s.Require().NoError(s.cache.RegisterSlot(s.ctx, "animal", id, 0))
	}
	s.Require().NoError(s.cache.RegisterSlot(s.ctx, "animal", other, 1))
	s.Require().NoError(s.cache.RegisterSlot(s.ctx, "food", other, 0))

	_, err := s.cache.AdjustEffectiveness(s.ctx, "animal", []int64{low}, -0.05)
	s.Require().NoError(err)
	_, err = s.cache.AdjustEffectiveness(s.ctx, "animal", []int64{high, busy}, 0.1)
	s.Require().NoError(err)
	s.Require().NoError(s.store.DB.Model(&DomainQuestion{}).
		Where("question_id = ?", busy).Update("usage_count", 5).Error)

	s.Run("effectiveness then usage", func() {
		q, err := s.cache.NextQuestion(s.ctx, "animal", 0, nil)
		s.Require().NoError(err)
		s.Require().NotNil(q)
		s.Equal(busy, q.QuestionID)
		s.Equal("Does it live in water?", q.Text)
		s.Equal(6, q.UsageCount)
		s.InDelta(0.6, q.Effectiveness, 1e-9)
	})

	s.Run("excluded texts are skipped", func() {
		q, err := s.cache.NextQuestion(s.ctx, "animal", 0, []string{"Does it live in water?"})
		s.Require().NoError(err)
		s.Require().NotNil(q)
		s.Equal(high, q.QuestionID)
	})

	s.Run("all excluded is a miss", func() {
		q, err := s.cache.NextQuestion(s.ctx, "animal", 0,
			[]string{"Does it live in water?", "Is it a mammal?", "Is it small?"})
		s.NoError(err)
		s.Nil(q)
	})

	s.Run("position and domain are respected", func() {
		q, err := s.cache.NextQuestion(s.ctx, "animal", 1, nil)
		s.Require().NoError(err)
		s.Require().NotNil(q)
		s.Equal(other, q.QuestionID)

		q, err = s.cache.NextQuestion(s.ctx, "animal", 2, nil)
		s.NoError(err)
		s.Nil(q)
	})
}

func (s *StoresSuite) TestNextQuestionTouchesQuestion() {
	id := s.question("Is it a mammal?")
	s.Require().NoError(s.cache.RegisterSlot(s.ctx, "animal", id, 0))

	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	s.cache.now = func() time.Time { return at }

	_, err := s.cache.NextQuestion(s.ctx, "animal", 0, nil)
	s.Require().NoError(err)

	q, err := s.questions.GetQuestion(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(q.LastUsed)
	s.True(q.LastUsed.Equal(at))
}

func (s *StoresSuite) TestRegisterSlotIgnoresDuplicates() {
	id := s.question("Is it a mammal?")
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.cache.RegisterSlot(s.ctx, "animal", id, 2))
	}

	slots, err := s.cache.Slots(s.ctx, "animal")
	s.Require().NoError(err)
	s.Require().Len(slots, 1)
	s.Equal(models.Slot{Domain: "animal", QuestionID: id, Position: 2, Effectiveness: 0.5}, slots[0])
}

func (s *StoresSuite) TestAdjustEffectivenessUnclamped() {
	id := s.question("Is it a mammal?")
	s.Require().NoError(s.cache.RegisterSlot(s.ctx, "animal", id, 0))
	s.Require().NoError(s.cache.RegisterSlot(s.ctx, "animal", id, 3))

	for i := 0; i < 10; i++ {
		n, err := s.cache.AdjustEffectiveness(s.ctx, "animal", []int64{id}, 0.1)
		s.Require().NoError(err)
		s.Equal(int64(2), n, "every slot of the question moves")
	}

	slots, err := s.cache.Slots(s.ctx, "animal")
	s.Require().NoError(err)
	for _, slot := range slots {
		s.InDelta(1.5, slot.Effectiveness, 1e-9)
	}

	n, err := s.cache.AdjustEffectiveness(s.ctx, "animal", nil, 0.1)
	s.NoError(err)
	s.Zero(n)
}

func (s *StoresSuite) TestRecordOutcome() {
	s.Require().NoError(s.guesses.RecordOutcome(s.ctx, "movie", "Inception", true))
	s.Require().NoError(s.guesses.RecordOutcome(s.ctx, "movie", "Inception", true))
	s.Require().NoError(s.guesses.RecordOutcome(s.ctx, "movie", "Inception", false))
	s.Require().NoError(s.guesses.RecordOutcome(s.ctx, "movie", "Avatar", false))

	g, err := s.guesses.GetGuess(s.ctx, "movie", "Inception")
	s.Require().NoError(err)
	s.Equal(&models.GuessEntry{Domain: "movie", EntityName: "Inception", SuccessCount: 2, FailCount: 1}, g)

	g, err = s.guesses.GetGuess(s.ctx, "movie", "Avatar")
	s.Require().NoError(err)
	s.Equal(0, g.SuccessCount)
	s.Equal(1, g.FailCount)

	g, err = s.guesses.GetGuess(s.ctx, "book", "Inception")
	s.NoError(err)
	s.Nil(g)
}

func (s *StoresSuite) TestTopGuesses() {
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.guesses.RecordOutcome(s.ctx, "animal", "cat", true))
	}
	s.Require().NoError(s.guesses.RecordOutcome(s.ctx, "animal", "dog", true))
	s.Require().NoError(s.guesses.RecordOutcome(s.ctx, "animal", "eel", false))
	s.Require().NoError(s.guesses.RecordOutcome(s.ctx, "food", "pizza", true))

	top, err := s.guesses.TopGuesses(s.ctx, "animal", 10)
	s.Require().NoError(err)
	s.Require().Len(top, 2, "entries without successes are not candidates")
	s.Equal("cat", top[0].EntityName)
	s.Equal("dog", top[1].EntityName)

	top, err = s.guesses.TopGuesses(s.ctx, "animal", 1)
	s.Require().NoError(err)
	s.Len(top, 1)
}

func (s *StoresSuite) TestRecordGameAndPatterns() {
	q1, q2, q3 := s.question("Q1?"), s.question("Q2?"), s.question("Q3?")
	uid := int64(7)

	rec := &models.GameRecord{
		ID:             "game-1",
		UserID:         &uid,
		Domain:         "movie",
		TargetEntity:   "Inception",
		WasCorrect:     true,
		QuestionsCount: 4,
		Duration:       95 * time.Second,
		CompletedAt:    time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC),
		Answers: []models.GameAnswer{
			{QuestionID: q1, Answer: "yes", AskOrder: 1},
			{QuestionID: q2, Answer: "no", AskOrder: 2},
			{QuestionID: 0, Answer: "yes", AskOrder: 3},
			{QuestionID: q3, Answer: "yes", AskOrder: 4},
		},
	}
	s.Require().NoError(s.history.RecordGame(s.ctx, rec))

	// A losing game and a game in another domain must not match.
	s.Require().NoError(s.history.RecordGame(s.ctx, &models.GameRecord{
		ID: "game-2", Domain: "movie", TargetEntity: "Inception", WasCorrect: false,
		Answers: []models.GameAnswer{{QuestionID: q1, Answer: "no", AskOrder: 1}},
	}))
	s.Require().NoError(s.history.RecordGame(s.ctx, &models.GameRecord{
		ID: "game-3", Domain: "book", TargetEntity: "Inception", WasCorrect: true,
		Answers: []models.GameAnswer{{QuestionID: q1, Answer: "no", AskOrder: 1}},
	}))

	patterns, err := s.history.WinningPatterns(s.ctx, "movie", "Inception", 5)
	s.Require().NoError(err)
	s.Equal([]similarity.Pattern{{q1: "yes", q2: "no", q3: "yes"}}, patterns)

	got, err := s.history.GetGame(s.ctx, "game-1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(95*time.Second, got.Duration)
	s.Equal(4, got.QuestionsCount)
	s.Equal(int64(7), *got.UserID)
	s.Len(got.Answers, 3)
	s.Equal(q3, got.Answers[2].QuestionID)

	missing, err := s.history.GetGame(s.ctx, "nope")
	s.NoError(err)
	s.Nil(missing)
}

func (s *StoresSuite) TestRecordGameDuplicateIDFails() {
	rec := &models.GameRecord{ID: "dup", Domain: "animal", TargetEntity: "cat", WasCorrect: true}
	s.Require().NoError(s.history.RecordGame(s.ctx, rec))
	s.Error(s.history.RecordGame(s.ctx, rec))
}

func (s *StoresSuite) TestWinningPatternsLimit() {
	q := s.question("Q?")
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		s.Require().NoError(s.history.RecordGame(s.ctx, &models.GameRecord{
			ID: "g" + string(rune('a'+i)), Domain: "animal", TargetEntity: "cat", WasCorrect: true,
			CompletedAt: base.Add(time.Duration(i) * time.Hour),
			Answers:     []models.GameAnswer{{QuestionID: q, Answer: "yes", AskOrder: 1}},
		}))
	}

	patterns, err := s.history.WinningPatterns(s.ctx, "animal", "cat", 5)
	s.Require().NoError(err)
	s.Len(patterns, 5)

	none, err := s.history.WinningPatterns(s.ctx, "animal", "dog", 5)
	s.NoError(err)
	s.Empty(none)
}
