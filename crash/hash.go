package crash

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	sha256simd "github.com/minio/sha256-simd"
)

// hashLen is trunc16: 16 hex characters of the SHA-256 digest, per
// spec.md §4.6.3, matching corpus.IDLen's truncation convention.
const hashLen = 16

// DedupHash implements spec.md §4.6.3: hash over crash_type, signal,
// and the top 5 frame functions, falling back to the stderr tail when
// no frames were parsed.
func DedupHash(kind Kind, signal int, stack *StackTrace, stderrTail []byte) string {
	h := sha256simd.New()
	h.Write([]byte(kind))
	var sigBuf [8]byte
	binary.LittleEndian.PutUint64(sigBuf[:], uint64(int64(signal)))
	h.Write(sigBuf[:])

	top := stack.Top(5)
	if len(top) == 0 {
		h.Write(stderrTail)
	} else {
		names := make([]string, len(top))
		for i, f := range top {
			names[i] = f.Function
		}
		h.Write([]byte(strings.Join(names, "|")))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:])[:hashLen]
}
