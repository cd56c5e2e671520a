// Package signal provides the SIGINT/SIGTERM graceful-shutdown helper.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// WaitForShutdown blocks until SIGINT or SIGTERM, then runs shutdownFunc
// with a bounded grace period. In-flight work past the grace period is
// abandoned.
func WaitForShutdown(logger *zap.Logger, grace time.Duration, shutdownFunc func() error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	go func() {
		if err := shutdownFunc(); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
		cancel()
	}()

	<-ctx.Done()
	if ctx.Err() == context.DeadlineExceeded {
		logger.Warn("shutdown grace period exceeded", zap.Duration("grace", grace))
	}
	logger.Info("shutdown completed")
}
