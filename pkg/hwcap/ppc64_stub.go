//go:build !(linux && (ppc64 || ppc64le))

package hwcap

func ppc64Levels() []string { return nil }
