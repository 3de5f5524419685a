// File: internal/browser/host.go
package browser

import (
	"context"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fetchproxy/internal/config"
)

// lookupHost is swapped in tests.
var lookupHost = net.DefaultResolver.LookupHost

// ResolveHost picks the remote debugging host: an explicit host wins,
// otherwise the alias is resolved to its first address, otherwise the
// fallback literal is used.
func ResolveHost(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) string {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host != "" {
		return cfg.Host
	}
	if cfg.HostAlias != "" {
		addrs, err := lookupHost(ctx, cfg.HostAlias)
		if err == nil && len(addrs) > 0 {
			logger.Debug("Resolved debugging host alias.", zap.String("alias", cfg.HostAlias), zap.String("address", addrs[0]))
			return addrs[0]
		}
		logger.Warn("Could not resolve debugging host alias, using fallback.",
			zap.String("alias", cfg.HostAlias),
			zap.String("fallback", cfg.FallbackHost),
			zap.Error(err))
	}
	return cfg.FallbackHost
}

// Endpoint formats the remote debugging URL for host and port.
func Endpoint(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}
