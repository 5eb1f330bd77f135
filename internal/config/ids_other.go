//go:build !unix

package config

import "os"

func processIDs() (uid, euid int) {
	return os.Getuid(), os.Geteuid()
}
