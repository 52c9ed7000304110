package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/llmready/llmready/app/models"
	"github.com/llmready/llmready/internal/pkg/database"
)

func setupMaintenanceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func testConfig() Config {
	return Config{
		FailedRetention:    30 * 24 * time.Hour,
		CompletedRetention: 90 * 24 * time.Hour,
		MaxJobDuration:     time.Hour,
	}
}

func seedMaintenanceSubscription(t *testing.T, db *gorm.DB, mutate func(*models.Subscription)) *models.Subscription {
	t.Helper()
	user := &models.User{Email: uuid.New().String() + "@example.com", Status: models.UserStatusActive}
	require.NoError(t, db.Create(user).Error)
	sub := &models.Subscription{
		UserID:           user.ID,
		PlanType:         "starter",
		Status:           models.SubscriptionStatusActive,
		GenerationsUsed:  2,
		GenerationsLimit: 3,
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func seedGenerationAt(t *testing.T, db *gorm.DB, status string, age time.Duration, filePath string) *models.Generation {
	t.Helper()
	user := &models.User{Email: uuid.New().String() + "@example.com", Status: models.UserStatusActive}
	require.NoError(t, db.Create(user).Error)
	gen := &models.Generation{
		UUID:      uuid.New().String(),
		UserID:    user.ID,
		WebsiteID: 1,
		Status:    status,
		FilePath:  filePath,
		FileSize:  1234,
	}
	require.NoError(t, db.Create(gen).Error)

	past := time.Now().Add(-age)
	updates := map[string]interface{}{"created_at": past}
	switch status {
	case models.GenerationStatusProcessing:
		updates["started_at"] = past
	case models.GenerationStatusCompleted:
		updates["completed_at"] = past
	}
	require.NoError(t, db.Model(gen).UpdateColumns(updates).Error)
	return gen
}

func artifactFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.zip")
	require.NoError(t, os.WriteFile(path, []byte("zipdata"), 0o644))
	return path
}

func TestResetQuotasElapsedPeriod(t *testing.T) {
	db := setupMaintenanceDB(t)
	start := time.Now().AddDate(0, -1, -2)
	end := time.Now().Add(-48 * time.Hour)
	sub := seedMaintenanceSubscription(t, db, func(s *models.Subscription) {
		s.CurrentPeriodStart = &start
		s.CurrentPeriodEnd = &end
	})

	runner := NewRunner(db, testConfig(), nil)
	reset, err := runner.ResetQuotas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	var got models.Subscription
	require.NoError(t, db.First(&got, sub.ID).Error)
	assert.Zero(t, got.GenerationsUsed)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.True(t, got.CurrentPeriodEnd.After(time.Now()), "the new period extends into the future")
}

func TestResetQuotasIdempotent(t *testing.T) {
	db := setupMaintenanceDB(t)
	start := time.Now().AddDate(0, -1, -1)
	end := time.Now().Add(-time.Hour)
	sub := seedMaintenanceSubscription(t, db, func(s *models.Subscription) {
		s.CurrentPeriodStart = &start
		s.CurrentPeriodEnd = &end
	})

	runner := NewRunner(db, testConfig(), nil)
	_, err := runner.ResetQuotas(context.Background())
	require.NoError(t, err)

	// Use a slot in the fresh period, then run the job again.
	require.NoError(t, db.Model(&models.Subscription{}).Where("id = ?", sub.ID).
		UpdateColumn("generations_used", 1).Error)

	reset, err := runner.ResetQuotas(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reset, "a second run inside the same period matches no rows")

	var got models.Subscription
	require.NoError(t, db.First(&got, sub.ID).Error)
	assert.Equal(t, 1, got.GenerationsUsed, "usage from the current period survives the rerun")
}

func TestResetQuotasCurrentPeriodUntouched(t *testing.T) {
	db := setupMaintenanceDB(t)
	start := time.Now().Add(-time.Hour)
	end := time.Now().AddDate(0, 1, 0)
	sub := seedMaintenanceSubscription(t, db, func(s *models.Subscription) {
		s.CurrentPeriodStart = &start
		s.CurrentPeriodEnd = &end
	})

	runner := NewRunner(db, testConfig(), nil)
	reset, err := runner.ResetQuotas(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reset)

	var got models.Subscription
	require.NoError(t, db.First(&got, sub.ID).Error)
	assert.Equal(t, 2, got.GenerationsUsed)
}

func TestResetQuotasAnchorsUnboundedPeriods(t *testing.T) {
	db := setupMaintenanceDB(t)
	sub := seedMaintenanceSubscription(t, db, nil)

	runner := NewRunner(db, testConfig(), nil)
	_, err := runner.ResetQuotas(context.Background())
	require.NoError(t, err)

	var got models.Subscription
	require.NoError(t, db.First(&got, sub.ID).Error)
	require.NotNil(t, got.CurrentPeriodEnd, "a subscription without bounds gets anchored")
	assert.True(t, got.CurrentPeriodEnd.After(time.Now()))
}

func TestCleanupPurgesOldFailed(t *testing.T) {
	db := setupMaintenanceDB(t)
	artifact := artifactFile(t)
	old := seedGenerationAt(t, db, models.GenerationStatusFailed, 40*24*time.Hour, artifact)
	fresh := seedGenerationAt(t, db, models.GenerationStatusFailed, 5*24*time.Hour, "")

	runner := NewRunner(db, testConfig(), nil)
	_, err := runner.CleanupStale(context.Background())
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Generation{}).Where("id = ?", old.ID).Count(&count).Error)
	assert.Zero(t, count, "the old failed record is gone")
	_, statErr := os.Stat(artifact)
	assert.True(t, os.IsNotExist(statErr), "its artifact is gone too")

	require.NoError(t, db.Model(&models.Generation{}).Where("id = ?", fresh.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count, "recent failures stay within retention")
}

func TestCleanupExpiresOldCompletedArchives(t *testing.T) {
	db := setupMaintenanceDB(t)
	artifact := artifactFile(t)
	old := seedGenerationAt(t, db, models.GenerationStatusCompleted, 100*24*time.Hour, artifact)
	freshArtifact := artifactFile(t)
	fresh := seedGenerationAt(t, db, models.GenerationStatusCompleted, 10*24*time.Hour, freshArtifact)

	runner := NewRunner(db, testConfig(), nil)
	_, err := runner.CleanupStale(context.Background())
	require.NoError(t, err)

	var got models.Generation
	require.NoError(t, db.First(&got, old.ID).Error)
	assert.Equal(t, models.GenerationStatusCompleted, got.Status, "the record itself survives")
	assert.Empty(t, got.FilePath)
	assert.Zero(t, got.FileSize)
	_, statErr := os.Stat(artifact)
	assert.True(t, os.IsNotExist(statErr))

	got = models.Generation{}
	require.NoError(t, db.First(&got, fresh.ID).Error)
	assert.Equal(t, freshArtifact, got.FilePath)
	_, statErr = os.Stat(freshArtifact)
	assert.NoError(t, statErr)
}

func TestCleanupExpiresStuckProcessing(t *testing.T) {
	db := setupMaintenanceDB(t)
	stuck := seedGenerationAt(t, db, models.GenerationStatusProcessing, 2*time.Hour, "")
	live := seedGenerationAt(t, db, models.GenerationStatusProcessing, 10*time.Minute, "")

	runner := NewRunner(db, testConfig(), nil)
	_, err := runner.CleanupStale(context.Background())
	require.NoError(t, err)

	var got models.Generation
	require.NoError(t, db.First(&got, stuck.ID).Error)
	assert.Equal(t, models.GenerationStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "maximum processing time")

	got = models.Generation{}
	require.NoError(t, db.First(&got, live.ID).Error)
	assert.Equal(t, models.GenerationStatusProcessing, got.Status, "a live run is never touched")
}

// TestCleanupFailsAbandonedPending covers generations whose job never made it
// into (or out of) the queue. Left pending they would hold the per-website
// single-run slot forever.
func TestCleanupFailsAbandonedPending(t *testing.T) {
	db := setupMaintenanceDB(t)
	abandoned := seedGenerationAt(t, db, models.GenerationStatusPending, 72*time.Hour, "")
	fresh := seedGenerationAt(t, db, models.GenerationStatusPending, 10*time.Minute, "")

	runner := NewRunner(db, testConfig(), nil)
	_, err := runner.CleanupStale(context.Background())
	require.NoError(t, err)

	var got models.Generation
	require.NoError(t, db.First(&got, abandoned.ID).Error)
	assert.Equal(t, models.GenerationStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "never picked up")

	got = models.Generation{}
	require.NoError(t, db.First(&got, fresh.ID).Error)
	assert.Equal(t, models.GenerationStatusPending, got.Status, "a freshly queued run is never touched")
}

type countingResyncer struct{ calls int }

func (r *countingResyncer) Resync(context.Context) (int, error) {
	r.calls++
	return 0, nil
}

func TestHandleBillingResyncDelegates(t *testing.T) {
	db := setupMaintenanceDB(t)
	resyncer := &countingResyncer{}
	runner := NewRunner(db, testConfig(), resyncer)

	require.NoError(t, runner.HandleBillingResync(context.Background(), nil))
	assert.Equal(t, 1, resyncer.calls)

	// Without a resyncer the handler is a no-op rather than an error.
	bare := NewRunner(db, testConfig(), nil)
	assert.NoError(t, bare.HandleBillingResync(context.Background(), nil))
}
