// Package async runs fire-and-forget background work.
//
// # Overview
//
// Request handlers hand slow side effects (password reset mail, push
// fan-out) to a WorkerPool so the response does not wait on SMTP or FCM.
// Each task runs under the pool's own context with a timeout; panics are
// recovered and logged, failures are logged and counted in
// warden_background_tasks_total.
//
// # Usage
//
//	pool := async.NewWorkerPool(ctx, logger, metrics, 4, 64, 30*time.Second)
//	defer pool.Shutdown(shutdownCtx)
//
//	err := pool.Submit("password-reset", func(ctx context.Context) error {
//		return mailer.Send(ctx, msg)
//	})
//
// Submit never blocks: a full queue returns ErrQueueFull and a stopped pool
// returns ErrPoolClosed.
//
// SafeGo is the one-off variant for callers without a pool.
package async
