package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/chrisklg/stock-data-tracker/internal/alpaca"
	"github.com/chrisklg/stock-data-tracker/internal/config"
	"github.com/chrisklg/stock-data-tracker/internal/database"
	"github.com/chrisklg/stock-data-tracker/internal/models"
	"github.com/chrisklg/stock-data-tracker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupScheduler(t *testing.T, cfg config.Sync) (*Scheduler, *store.Store, *gorm.DB, *MockMarketClient) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, database.AutoMigrate(db))

	st := store.New(db, zap.NewNop())
	mockClient := new(MockMarketClient)

	planner := NewPlanner(st, zap.NewNop(), &cfg)
	planner.now = func() time.Time { return plannerNow }
	coordinator := NewCoordinator(zap.NewNop(), mockClient, st, planner, &cfg)

	return NewScheduler(zap.NewNop(), st, coordinator, &cfg), st, db, mockClient
}

var (
	monday   = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	saturday = time.Date(2024, 1, 13, 12, 0, 0, 0, time.UTC)
	sunday   = time.Date(2024, 1, 14, 12, 0, 0, 0, time.UTC)
)

func TestShouldRun_WeekendAlwaysFalse(t *testing.T) {
	s, st, _, _ := setupScheduler(t, syncCfg)

	assert.False(t, s.ShouldRun(saturday))
	assert.False(t, s.ShouldRun(sunday))

	// Run history is irrelevant on weekends.
	assert.NoError(t, st.AppendRunRecord(models.JobKindDaily, models.RunStatusFailed, nil))
	assert.False(t, s.ShouldRun(saturday))
}

func TestShouldRun_WeekdayWithNoHistory(t *testing.T) {
	s, _, _, _ := setupScheduler(t, syncCfg)

	assert.True(t, s.ShouldRun(monday))
}

func TestShouldRun_AlreadyRanToday(t *testing.T) {
	s, st, _, _ := setupScheduler(t, syncCfg)

	assert.NoError(t, st.AppendRunRecord(models.JobKindDaily, models.RunStatusCompleted, nil))
	assert.False(t, s.ShouldRun(monday))
}

func TestShouldRun_FailedRunsDoNotGate(t *testing.T) {
	s, st, _, _ := setupScheduler(t, syncCfg)

	assert.NoError(t, st.AppendRunRecord(models.JobKindDaily, models.RunStatusFailed, nil))
	assert.NoError(t, st.AppendRunRecord(models.JobKindDaily, models.RunStatusError, nil))
	// Manual runs don't count against the daily gate either.
	assert.NoError(t, st.AppendRunRecord(models.JobKindManual, models.RunStatusCompleted, nil))

	assert.True(t, s.ShouldRun(monday))
}

func TestShouldRun_OutsideWindow(t *testing.T) {
	cfg := syncCfg
	cfg.WindowStartHour = 9
	cfg.WindowEndHour = 18
	s, _, _, _ := setupScheduler(t, cfg)

	assert.False(t, s.ShouldRun(time.Date(2024, 1, 15, 3, 0, 0, 0, time.UTC)))
	assert.False(t, s.ShouldRun(time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)))
	assert.True(t, s.ShouldRun(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)))
}

func TestShouldRun_FailsOpenOnHistoryError(t *testing.T) {
	// A store over an unmigrated database cannot read run history.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	st := store.New(db, zap.NewNop())

	planner := NewPlanner(st, zap.NewNop(), &syncCfg)
	coordinator := NewCoordinator(zap.NewNop(), new(MockMarketClient), st, planner, &syncCfg)
	s := NewScheduler(zap.NewNop(), st, coordinator, &syncCfg)

	assert.True(t, s.ShouldRun(monday))
}

func TestRunOnce_ManualBypassesGateAndRecords(t *testing.T) {
	s, _, db, _ := setupScheduler(t, syncCfg)
	s.now = func() time.Time { return saturday }

	// Empty favorite set: a successful no-op run.
	summary, err := s.RunOnce(context.Background(), models.JobKindManual)

	assert.NoError(t, err)
	assert.NotNil(t, summary)
	assert.Equal(t, 0, summary.Processed)

	var recs []models.RunRecord
	assert.NoError(t, db.Find(&recs).Error)
	assert.Len(t, recs, 1)
	assert.Equal(t, models.JobKindManual, recs[0].JobKind)
	assert.Equal(t, models.RunStatusCompleted, recs[0].Status)
}

func TestRunOnce_GatedKindHonorsEligibility(t *testing.T) {
	s, _, db, _ := setupScheduler(t, syncCfg)
	s.now = func() time.Time { return saturday }

	summary, err := s.RunOnce(context.Background(), models.JobKindCron)

	assert.NoError(t, err)
	assert.Nil(t, summary)

	var count int64
	assert.NoError(t, db.Model(&models.RunRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRunOnce_CancelledRunIsNotAFailure(t *testing.T) {
	cfg := syncCfg
	cfg.SymbolDelaySeconds = 1
	s, st, db, mockClient := setupScheduler(t, cfg)
	s.now = func() time.Time { return monday }

	_, err := st.AddFavorite("AAA", "")
	assert.NoError(t, err)
	_, err = st.AddFavorite("BBB", "")
	assert.NoError(t, err)
	mockClient.On("GetDailyBars", mock.Anything, mock.Anything, mock.Anything).
		Return(barsFor(day(2024, 1, 12)), nil)

	// Cancellation takes effect at the pacing point after the first symbol.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.RunOnce(ctx, models.JobKindManual)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, summary)

	// A cooperative stop leaves no error record behind.
	var count int64
	assert.NoError(t, db.Model(&models.RunRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRun_StopMidRunLeavesNoErrorRecord(t *testing.T) {
	cfg := syncCfg
	cfg.SymbolDelaySeconds = 1
	cfg.PollIntervalSeconds = 60
	s, st, db, mockClient := setupScheduler(t, cfg)
	s.now = func() time.Time { return monday }

	_, err := st.AddFavorite("AAA", "")
	assert.NoError(t, err)
	_, err = st.AddFavorite("BBB", "")
	assert.NoError(t, err)
	mockClient.On("GetDailyBars", mock.Anything, mock.Anything, mock.Anything).
		Return(barsFor(day(2024, 1, 12)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Returns once the in-flight run observes the cancellation.
	s.Run(ctx)

	var count int64
	assert.NoError(t, db.Model(&models.RunRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRunOnce_RecordsMixedStatus(t *testing.T) {
	s, st, db, mockClient := setupScheduler(t, syncCfg)
	s.now = func() time.Time { return monday }

	_, err := st.AddFavorite("AAA", "")
	assert.NoError(t, err)
	_, err = st.AddFavorite("BBB", "")
	assert.NoError(t, err)

	mockClient.On("GetDailyBars", "AAA", mock.Anything, mock.Anything).
		Return(barsFor(day(2024, 1, 12)), nil)
	mockClient.On("GetDailyBars", "BBB", mock.Anything, mock.Anything).
		Return(nil, alpaca.ErrProviderUnavailable)

	summary, err := s.RunOnce(context.Background(), models.JobKindCron)

	assert.NoError(t, err)
	assert.Equal(t, models.RunStatusPartialSuccess, summary.Status())

	var rec models.RunRecord
	assert.NoError(t, db.First(&rec).Error)
	assert.Equal(t, models.JobKindCron, rec.JobKind)
	assert.Equal(t, models.RunStatusPartialSuccess, rec.Status)
	assert.Contains(t, rec.Result, `"failed_symbols":["BBB"]`)
}
