//go:build !unix

package launch

import (
	"syscall"

	"github.com/g960059/mate/internal/config"
)

func sysProcAttr(*config.Credential) *syscall.SysProcAttr {
	return nil
}
