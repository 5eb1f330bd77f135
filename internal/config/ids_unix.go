//go:build unix

package config

import "golang.org/x/sys/unix"

func processIDs() (uid, euid int) {
	return unix.Getuid(), unix.Geteuid()
}
