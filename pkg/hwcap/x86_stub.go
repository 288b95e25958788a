//go:build !amd64

package hwcap

func x86Levels() []string { return nil }
