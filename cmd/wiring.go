// File: cmd/wiring.go
package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fetchproxy/internal/browser"
	"github.com/xkilldash9x/fetchproxy/internal/config"
	"github.com/xkilldash9x/fetchproxy/internal/fetch"
)

// newDialer is swapped in tests to avoid a real browser.
var newDialer = func(logger *zap.Logger) fetch.Dialer {
	return browser.NewRemoteDialer(logger)
}

// newProxy resolves the debugging endpoint and builds a proxy from cfg.
func newProxy(ctx context.Context, cfg config.Interface, rec fetch.Recorder, logger *zap.Logger) *fetch.Proxy {
	bc := cfg.Browser()
	host := browser.ResolveHost(ctx, bc, logger)
	endpoint := browser.Endpoint(host, bc.Port)

	logger.Info("Using remote browser.",
		zap.String("endpoint", endpoint),
		zap.Duration("settle_delay", bc.SettleDelay),
		zap.Bool("serialize_executions", bc.SerializeExecutions))

	return fetch.NewProxy(newDialer(logger), fetch.Options{
		Endpoint:          endpoint,
		SettleDelay:       bc.SettleDelay,
		NavigationTimeout: bc.NavigationTimeout,
		EvaluationTimeout: bc.EvaluationTimeout,
		Serialize:         bc.SerializeExecutions,
		Recorder:          rec,
	}, logger)
}
