//go:build unix

package launch

import (
	"syscall"

	"github.com/g960059/mate/internal/config"
)

func sysProcAttr(cred *config.Credential) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setsid: true}
	if cred != nil {
		attr.Credential = &syscall.Credential{Uid: uint32(cred.UID), Gid: uint32(cred.GID)}
	}
	return attr
}
