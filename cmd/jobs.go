package main

import (
	"time"

	"streamscaler/pkg/logger"
)

// retentionSweepInterval is how often expired audit rows are purged.
const retentionSweepInterval = 6 * time.Hour

// startRetentionSweep purges audit rows older than the configured
// retention. Runs only when the audit log is configured.
func (app *Application) startRetentionSweep() {
	if app.recordRepo == nil {
		return
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()

		ticker := time.NewTicker(retentionSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-app.ctx.Done():
				return
			case <-ticker.C:
				deleted, err := app.recordRepo.PurgeExpired(app.ctx, app.config.Scaler.RetentionDays)
				if err != nil {
					logger.ErrorCtx(app.ctx, "retention sweep failed: %v", err)
					continue
				}
				if deleted > 0 {
					logger.InfoCtx(app.ctx, "retention sweep removed %d audit rows", deleted)
				}
			}
		}
	}()
}
