//go:build !unix

package netflow

import "go.uber.org/zap"

func checkPrivilege(logger *zap.Logger) {
	logger.Debug("privilege check not available on this platform")
}
