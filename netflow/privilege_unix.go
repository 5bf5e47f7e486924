//go:build unix

package netflow

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// checkPrivilege only reports, capture without root usually yields nothing.
func checkPrivilege(logger *zap.Logger) {
	if euid := unix.Geteuid(); euid != 0 {
		logger.Warn("not running as root, packet capture may see no traffic", zap.Int("euid", euid))
	}
}
