//go:build amd64

package hwcap

// cpuid is implemented in cpuid_amd64.s: a single CPUID instruction,
// the same wrapper golang.org/x/sys/cpu keeps unexported internally.
// It is duplicated here because x86Levels needs one leaf/bit x/sys/cpu
// does not surface as a named field (LAHF/SAHF availability in 64-bit
// mode, CPUID.80000001H:ECX bit 0).
func cpuid(eaxArg, ecxArg uint32) (eax, ebx, ecx, edx uint32)
