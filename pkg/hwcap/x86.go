//go:build amd64

package hwcap

import "golang.org/x/sys/cpu"

// x86Levels reproduces glibc's x86-64-v2/v3/v4 feature gating (spec.md
// §4.5) from golang.org/x/sys/cpu's feature flags, emitted in
// decreasing-priority order (v4 before v3 before v2). The v1 baseline
// (CMOV, CMPXCHG8B, FPU, FXSR, MMX, SSE, SSE2) is guaranteed by the amd64
// ABI itself and is not separately gated.
func x86Levels() []string {
	v2 := cpu.X86.HasPOPCNT && cpu.X86.HasSSE3 && cpu.X86.HasSSSE3 &&
		cpu.X86.HasSSE41 && cpu.X86.HasSSE42 && hasCmpxchg16bAndLAHF()
	if !v2 {
		return nil
	}

	v3 := v2 && cpu.X86.HasAVX && cpu.X86.HasBMI1 && cpu.X86.HasBMI2 &&
		cpu.X86.HasF16C && cpu.X86.HasFMA && cpu.X86.HasLZCNT && cpu.X86.HasMOVBE
	if !v3 {
		return []string{"x86-64-v2"}
	}

	v4 := v3 && cpu.X86.HasAVX512F && cpu.X86.HasAVX512BW && cpu.X86.HasAVX512CD &&
		cpu.X86.HasAVX512DQ && cpu.X86.HasAVX512VL
	if !v4 {
		return []string{"x86-64-v3", "x86-64-v2"}
	}

	return []string{"x86-64-v4", "x86-64-v3", "x86-64-v2"}
}

// hasCmpxchg16bAndLAHF covers the two x86-64-v2 gates golang.org/x/sys/cpu
// does not surface as named fields: CMPXCHG16B is cpu.X86.HasCX16 under
// its instruction-mnemonic name; LAHF/SAHF availability in 64-bit mode has
// no x/sys/cpu field at all and is read straight off CPUID.80000001H:ECX
// bit 0, the same leaf/bit glibc's dl-hwcaps-subdirs.c checks.
func hasCmpxchg16bAndLAHF() bool {
	if !cpu.X86.HasCX16 {
		return false
	}
	_, _, ecx, _ := cpuid(0x80000001, 0)
	const lahfSahfAvailable = 1 << 0
	return ecx&lahfSahfAvailable != 0
}
