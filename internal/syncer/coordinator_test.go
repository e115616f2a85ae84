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

// MockMarketClient is a mock implementation of the alpaca.ClientInterface.
type MockMarketClient struct {
	mock.Mock
}

func (m *MockMarketClient) GetDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	args := m.Called(symbol, start, end)
	var bars []models.Bar
	if v := args.Get(0); v != nil {
		bars = v.([]models.Bar)
	}
	return bars, args.Error(1)
}

func (m *MockMarketClient) SearchAssets(ctx context.Context, keywords string) ([]alpaca.Asset, error) {
	args := m.Called(keywords)
	var assets []alpaca.Asset
	if v := args.Get(0); v != nil {
		assets = v.([]alpaca.Asset)
	}
	return assets, args.Error(1)
}

func (m *MockMarketClient) GetClock(ctx context.Context) (*alpaca.Clock, error) {
	args := m.Called()
	var clock *alpaca.Clock
	if v := args.Get(0); v != nil {
		clock = v.(*alpaca.Clock)
	}
	return clock, args.Error(1)
}

var syncCfg = config.Sync{BootstrapDays: 30, FallbackDays: 7, SymbolDelaySeconds: 0}

// setupCoordinator creates a full test environment with a mock client and
// in-memory database, pinned to Monday 2024-01-15.
func setupCoordinator(t *testing.T) (*Coordinator, *store.Store, *MockMarketClient) {
	// Use a new, non-shared in-memory database for each test to ensure isolation.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, database.AutoMigrate(db))

	st := store.New(db, zap.NewNop())
	mockClient := new(MockMarketClient)

	planner := NewPlanner(st, zap.NewNop(), &syncCfg)
	planner.now = func() time.Time { return plannerNow }

	coordinator := NewCoordinator(zap.NewNop(), mockClient, st, planner, &syncCfg)
	return coordinator, st, mockClient
}

func barsFor(dates ...time.Time) []models.Bar {
	bars := make([]models.Bar, 0, len(dates))
	for i, d := range dates {
		bars = append(bars, models.Bar{Date: d, Open: 100, High: 110, Low: 95, Close: 105 + float64(i), Volume: 1000})
	}
	return bars
}

func TestCoordinator_EmptyFavorites(t *testing.T) {
	coordinator, _, mockClient := setupCoordinator(t)

	summary, err := coordinator.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, models.RunStatusCompleted, summary.Status())
	mockClient.AssertNotCalled(t, "GetDailyBars")
}

func TestCoordinator_MixedOutcomes(t *testing.T) {
	coordinator, st, mockClient := setupCoordinator(t)

	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		_, err := st.AddFavorite(sym, "")
		assert.NoError(t, err)
	}

	mockClient.On("GetDailyBars", "AAA", mock.Anything, mock.Anything).
		Return(barsFor(day(2024, 1, 11), day(2024, 1, 12)), nil)
	mockClient.On("GetDailyBars", "BBB", mock.Anything, mock.Anything).
		Return(nil, alpaca.ErrProviderUnavailable)
	mockClient.On("GetDailyBars", "CCC", mock.Anything, mock.Anything).
		Return(barsFor(day(2024, 1, 12)), nil)

	summary, err := coordinator.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, summary.TotalSymbols)
	assert.Equal(t, 3, summary.TotalNewRecords)
	assert.Equal(t, []string{"BBB"}, summary.FailedSymbols)
	assert.Equal(t, models.RunStatusPartialSuccess, summary.Status())
	mockClient.AssertExpectations(t)
}

func TestCoordinator_AllFailed(t *testing.T) {
	coordinator, st, mockClient := setupCoordinator(t)

	_, err := st.AddFavorite("AAA", "")
	assert.NoError(t, err)

	mockClient.On("GetDailyBars", "AAA", mock.Anything, mock.Anything).
		Return(nil, alpaca.ErrSymbolNotFound)

	summary, err := coordinator.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, models.RunStatusFailed, summary.Status())
}

func TestCoordinator_UpToDateSkipsProvider(t *testing.T) {
	coordinator, st, mockClient := setupCoordinator(t)

	_, err := st.AddFavorite("ACME", "")
	assert.NoError(t, err)
	// Latest bar is already yesterday relative to the pinned clock.
	_, err = st.UpsertDailyBars("ACME", barsFor(day(2024, 1, 14)))
	assert.NoError(t, err)

	summary, err := coordinator.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, "already up to date", summary.Results[0].Message)
	assert.Equal(t, 0, summary.TotalNewRecords)
	mockClient.AssertNotCalled(t, "GetDailyBars")
}

// Scenario: ACME is cached through 2024-01-10 and a sync runs on Monday the
// 15th. The provider is asked for exactly [2024-01-11, 2024-01-14], returns
// two bars (a holiday fell in the range), and the cache afterwards serves
// old and new bars newest first.
func TestCoordinator_IncrementalScenario(t *testing.T) {
	coordinator, st, mockClient := setupCoordinator(t)

	_, err := st.AddFavorite("ACME", "")
	assert.NoError(t, err)
	_, err = st.UpsertDailyBars("ACME", barsFor(day(2024, 1, 9), day(2024, 1, 10)))
	assert.NoError(t, err)

	mockClient.On("GetDailyBars", "ACME", day(2024, 1, 11), day(2024, 1, 14)).
		Return(barsFor(day(2024, 1, 11), day(2024, 1, 12)), nil)

	summary, err := coordinator.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.TotalNewRecords)
	assert.Equal(t, models.RunStatusCompleted, summary.Status())
	assert.Equal(t, 2, summary.Results[0].NewRecords)
	assert.Equal(t, "2024-01-11 to 2024-01-14", summary.Results[0].DateRange)

	bars, err := st.QueryDailyBars("ACME", 10)
	assert.NoError(t, err)
	assert.Len(t, bars, 4)
	assert.Equal(t, day(2024, 1, 12), bars[0].Date.UTC())
	assert.Equal(t, day(2024, 1, 11), bars[1].Date.UTC())
	assert.Equal(t, day(2024, 1, 10), bars[2].Date.UTC())
	assert.Equal(t, day(2024, 1, 9), bars[3].Date.UTC())

	mockClient.AssertExpectations(t)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
