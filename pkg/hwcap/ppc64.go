//go:build linux && (ppc64 || ppc64le)

package hwcap

const (
	ppc64ArchV3_00 = 1 << 23 // PPC_FEATURE2_ARCH_3_00
	ppc64ArchV3_1  = 1 << 18 // PPC_FEATURE2_ARCH_3_1
	ppc64HasIEEE128 = 1 << 19 // PPC_FEATURE2_HAS_IEEE128
	ppc64HasMMA     = 1 << 17 // PPC_FEATURE2_MMA
)

// ppc64Levels reproduces spec.md §4.5's power9/power10 gating from
// AT_HWCAP2.
func ppc64Levels() []string {
	_, hwcap2 := readAuxv()

	power9 := hwcap2&ppc64ArchV3_00 != 0 && hwcap2&ppc64HasIEEE128 != 0
	power10 := hwcap2&ppc64ArchV3_1 != 0 && hwcap2&ppc64HasMMA != 0

	var levels []string
	if power10 {
		levels = append(levels, "power10")
	}
	if power9 {
		levels = append(levels, "power9")
	}
	return levels
}
