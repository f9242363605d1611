package scheduler

import (
	"os"
	"strconv"
	"time"
)

// Config holds scheduler configuration
type Config struct {
	// Enabled controls whether the scheduler runs
	Enabled bool

	// SyncSweepInterval is the interval between incremental sync sweeps
	// across all connected integrations
	SyncSweepInterval time.Duration

	// StuckSyncCleanupInterval is the interval for resetting integrations
	// stuck in SYNCING (e.g. after a crash mid-sync)
	StuckSyncCleanupInterval time.Duration

	// StuckSyncMinutes is how long an integration can sit in SYNCING
	// before it is considered stuck
	StuckSyncMinutes int

	// SyncLogRetentionInterval is the interval for pruning old sync logs
	SyncLogRetentionInterval time.Duration

	// SyncLogRetentionDays is how long completed sync log rows are kept
	SyncLogRetentionDays int

	// Cron schedule overrides (take precedence over intervals when set)
	// Format: "second minute hour day-of-month month day-of-week"
	// Examples: "0 */5 * * * *" (every 5 min), "0 0 2 * * *" (daily at 2am)
	SyncSweepSchedule        string
	StuckSyncCleanupSchedule string
	SyncLogRetentionSchedule string
}

// NewConfig creates a new Config from environment variables
func NewConfig() *Config {
	return &Config{
		Enabled:                  getEnvBool("SCHEDULER_ENABLED", true),
		SyncSweepInterval:        getEnvDuration("SYNC_SWEEP_INTERVAL_MS", 15*time.Minute),
		StuckSyncCleanupInterval: getEnvDuration("STUCK_SYNC_CLEANUP_INTERVAL_MS", 10*time.Minute),
		StuckSyncMinutes:         getEnvInt("STUCK_SYNC_MINUTES", 30),
		SyncLogRetentionInterval: getEnvDuration("SYNC_LOG_RETENTION_INTERVAL_MS", 24*time.Hour),
		SyncLogRetentionDays:     getEnvInt("SYNC_LOG_RETENTION_DAYS", 90),
		// Cron schedule overrides (empty string means use interval)
		SyncSweepSchedule:        getEnvString("SYNC_SWEEP_SCHEDULE", ""),
		StuckSyncCleanupSchedule: getEnvString("STUCK_SYNC_CLEANUP_SCHEDULE", ""),
		SyncLogRetentionSchedule: getEnvString("SYNC_LOG_RETENTION_SCHEDULE", ""),
	}
}

// getEnvBool returns a boolean from an environment variable
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvInt returns an integer from an environment variable
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvDuration returns a duration from an environment variable (in milliseconds)
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

// getEnvString returns a string from an environment variable
func getEnvString(key string, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
