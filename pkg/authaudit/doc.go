// Package authaudit records authentication events (logins, API key use,
// password changes) and purges them after a retention period.
//
// The auth flow calls Service.Log directly:
//
//	svc := authaudit.NewService(db, authaudit.WithMetrics(metrics))
//	entry := authaudit.LoginFailed("", username, "bad password").FromRequest(r)
//	if err := svc.Log(ctx, entry); err != nil {
//		logger.WithError(err).Warn("failed to record login failure")
//	}
//
// RetentionWorker deletes events older than the configured number of days
// (180 by default) once per schedule tick:
//
//	worker, err := authaudit.NewRetentionWorker(authaudit.DBScope(db), authaudit.WorkerConfig{
//		Days:     180,
//		Schedule: "@every 24h",
//		Logger:   logger,
//	})
//	worker.Start(ctx)
//	defer worker.Stop(shutdownCtx)
//
// The cutoff is exclusive: an event logged exactly retention days ago is
// kept until the next run.
package authaudit
