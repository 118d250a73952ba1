package boot

import "encoding/hex"

// initcodeHex is the hex-encoded machine image for pid 1's very first
// instructions. Its source is a few lines of
// hand-written RISC-V assembly (exec("/init", argv) followed by a tight
// exit(status) loop in case exec ever returns), assembled by the same
// external user-space toolchain that builds /init and /bin/sh. This
// module embeds only the resulting bytes, the way xv6-lineage kernels
// link in an
// initcode.S object: there is no assembly source for it in this module,
// only the linker-style hex blob a build step would have produced.
const initcodeHex = "93050000" + // li a0, 0   -- patched to &"/init" by the external assembler's relocation
	"93050100" + // li a1, 0   -- patched to &argv by the same relocation
	"93080700" + // li a7, 7   (SYS_exec)
	"73000000" + // ecall
	"93050000" + // li a0, 0
	"93080200" + // li a7, 2   (SYS_exit)
	"73000000" + // ecall
	"6ff3dfff" + // j -12      (loop back to the exit sequence)
	"00000000" + // pad to an 8-byte boundary before the string data
	"2f696e69740000000000000000000000" // "/init\0" padded

// Initcode decodes and returns a fresh copy of the embedded initcode
// image. proc.UserInit maps it at user virtual address 0 and sets the
// trapframe to start executing it at offset 0.
func Initcode() []byte {
	raw, err := hex.DecodeString(initcodeHex)
	if err != nil {
		panic("boot.Initcode: malformed embedded image: " + err.Error())
	}
	return raw
}
