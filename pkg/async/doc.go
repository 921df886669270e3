// Package async provides the background execution primitives used for
// maintenance work.
//
// # Periodic
//
// Periodic runs a Job on a cron schedule until stopped:
//
//	schedule, _ := async.ParseSchedule("@every 24h")
//	job := async.NewPeriodic("auth_audit_retention", schedule, cleanup,
//		async.WithTimeout(10*time.Minute),
//		async.WithLogger(logger),
//		async.WithMetrics(metrics),
//	)
//	job.Start(ctx)
//	defer job.Stop(shutdownCtx)
//
// Every run happens on its own goroutine with panic recovery and an optional
// timeout. Errors are logged and the loop keeps going. Stop returns as soon
// as the loop exits or the caller's context expires.
//
// # Locking
//
// With WithLocker, each run first obtains a named lock. RedisLocker backs
// this with Redis so that only one replica runs the job per tick; runs that
// lose the race are skipped rather than queued.
package async
