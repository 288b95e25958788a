//go:build linux && s390x

package hwcap

const (
	s390VX       = 1 << 11 // HWCAP_S390_VX
	s390VXD      = 1 << 12 // HWCAP_S390_VXD
	s390VXE      = 1 << 13 // HWCAP_S390_VXE
	s390GS       = 1 << 14 // HWCAP_S390_GS
	s390VXRSExt2 = 1 << 15 // HWCAP_S390_VXRS_EXT2
	s390VXRSPde  = 1 << 16 // HWCAP_S390_VXRS_PDE
	s390VXRSPde2 = 1 << 19 // HWCAP_S390_VXRS_PDE2
)

// s390xLevels reproduces spec.md §4.5's z13/z14/z15/z16 gating from
// AT_HWCAP.
func s390xLevels() []string {
	hwcap, _ := readAuxv()

	z13 := hwcap&s390VX != 0
	z14 := hwcap&s390VXD != 0 && hwcap&s390VXE != 0 && hwcap&s390GS != 0
	z15 := hwcap&s390VXRSExt2 != 0 && hwcap&s390VXRSPde != 0
	z16 := hwcap&s390VXRSPde2 != 0

	var levels []string
	if z16 {
		levels = append(levels, "z16")
	}
	if z15 {
		levels = append(levels, "z15")
	}
	if z14 {
		levels = append(levels, "z14")
	}
	if z13 {
		levels = append(levels, "z13")
	}
	return levels
}
