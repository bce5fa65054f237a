package config

import (
    "time"
)

// QueueConfig carries the knobs of the ticket lifecycle, the overdue sweep
// and the attendance history recorder.
type QueueConfig struct {
    Timezone          string        // calendar used to derive service dates
    OverdueAfter      time.Duration // in-service age after which a ticket is overdue
    WarnAfter         time.Duration // in-service age after which a warning is raised
    SweepSchedule     string        // cron spec of the overdue sweep
    SyncSchedule      string        // cron spec of the history outbox replay
    ReconcileSchedule string        // cron spec of the completed-without-history backfill
    OutboxPath        string        // file holding history entries not yet persisted
    UseProcedure      bool          // try the record_attendance procedure before a plain insert
    GuardTTL          time.Duration // expiry of a per-attendant operation token in Redis
}

// LoadQueueConfig builds a QueueConfig from the environment with defaults
// matching the walk-in desk rules (15 minute service limit, warning at 13).
func LoadQueueConfig() QueueConfig {
    cfg := QueueConfig{
        Timezone:          envStr("QUEUE_TIMEZONE", "Local"),
        OverdueAfter:      envDur("QUEUE_OVERDUE_AFTER", 15*time.Minute),
        WarnAfter:         envDur("QUEUE_WARN_AFTER", 13*time.Minute),
        SweepSchedule:     envStr("QUEUE_SWEEP_SCHEDULE", "@every 60s"),
        SyncSchedule:      envStr("HISTORY_SYNC_SCHEDULE", "@every 2m"),
        ReconcileSchedule: envStr("HISTORY_RECONCILE_SCHEDULE", "@every 10m"),
        OutboxPath:        envStr("HISTORY_OUTBOX_PATH", "data/history-outbox.json"),
        UseProcedure:      envBool("HISTORY_USE_PROCEDURE", true),
        GuardTTL:          envDur("GUARD_TTL", 30*time.Second),
    }
    if cfg.WarnAfter <= 0 || cfg.WarnAfter > cfg.OverdueAfter {
        cfg.WarnAfter = cfg.OverdueAfter
    }
    if cfg.GuardTTL < time.Second {
        cfg.GuardTTL = time.Second
    }
    return cfg
}

// Location resolves Timezone, falling back to the process local zone.
func (c QueueConfig) Location() *time.Location {
    if c.Timezone == "" || c.Timezone == "Local" {
        return time.Local
    }
    loc, err := time.LoadLocation(c.Timezone)
    if err != nil {
        return time.Local
    }
    return loc
}
