package mutate

import "math/rand"

// interesting8/16/32 are the width-specific "interesting value" sets
// from spec.md §4.2.1, used both by the deterministic stage and by
// havoc's interesting-value operation.
var (
	interesting8  = []int64{-128, -1, 0, 1, 16, 32, 64, 100, 127}
	interesting16 = []int64{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}
	interesting32 = []int64{-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647}
)

func interestingSetFor(width int) []int64 {
	switch width {
	case 1:
		return interesting8
	case 2:
		return interesting16
	default:
		return interesting32
	}
}

// deterministic applies exactly one transformation drawn uniformly from
// the deterministic catalog (bit-flip walk, byte-flip walk, arithmetic,
// interesting value) at a randomly chosen position, per spec.md §4.2.1.
// With a zero-length input every sub-case degenerates to "no-op",
// matching the infallible-mutation failure model of spec.md §4.2.
func deterministic(input []byte, rng *rand.Rand) []byte {
	if len(input) == 0 {
		return append([]byte(nil), input...)
	}
	out := append([]byte(nil), input...)

	switch rng.Intn(4) {
	case 0:
		bitFlipWalk(out, rng)
	case 1:
		byteFlipWalk(out, rng)
	case 2:
		arithmetic(out, rng)
	case 3:
		interestingOverwrite(out, rng)
	}
	return out
}

// bitFlipWalk XORs a single bit at a run of 1, 2, or 4 consecutive bit
// positions starting at a random bit offset.
func bitFlipWalk(data []byte, rng *rand.Rand) {
	run := []int{1, 2, 4}[rng.Intn(3)]
	totalBits := len(data) * 8
	if totalBits == 0 {
		return
	}
	start := rng.Intn(totalBits)
	for i := 0; i < run; i++ {
		bit := (start + i) % totalBits
		data[bit/8] ^= 1 << uint(bit%8)
	}
}

// byteFlipWalk XORs 0xFF over a run of 1, 2, or 4 consecutive bytes
// starting at a random byte offset.
func byteFlipWalk(data []byte, rng *rand.Rand) {
	run := []int{1, 2, 4}[rng.Intn(3)]
	if len(data) == 0 {
		return
	}
	start := rng.Intn(len(data))
	for i := 0; i < run && start+i < len(data); i++ {
		data[start+i] ^= 0xFF
	}
}

// arithmetic adds a delta in [-35,-1] u [1,35] to the little-endian
// integer at a random (pos, width) location, wrapping within 2^(8*width).
func arithmetic(data []byte, rng *rand.Rand) {
	width := pickWidth(len(data), rng)
	if width == 0 {
		return
	}
	pos := rng.Intn(len(data) - width + 1)
	delta := rng.Intn(70) - 35
	if delta >= 0 {
		delta++
	}
	addLittleEndian(data[pos:pos+width], int64(delta))
}

// interestingOverwrite overwrites the little-endian integer at a random
// (pos, width) location with a value from that width's interesting set.
func interestingOverwrite(data []byte, rng *rand.Rand) {
	width := pickWidth(len(data), rng)
	if width == 0 {
		return
	}
	pos := rng.Intn(len(data) - width + 1)
	set := interestingSetFor(width)
	v := set[rng.Intn(len(set))]
	writeLittleEndian(data[pos:pos+width], v)
}

// pickWidth returns 1, 2, or 4, restricted to widths that fit in
// dataLen, or 0 if none fit.
func pickWidth(dataLen int, rng *rand.Rand) int {
	choices := make([]int, 0, 3)
	for _, w := range []int{1, 2, 4} {
		if w <= dataLen {
			choices = append(choices, w)
		}
	}
	if len(choices) == 0 {
		return 0
	}
	return choices[rng.Intn(len(choices))]
}

func addLittleEndian(buf []byte, delta int64) {
	v := readLittleEndian(buf)
	mod := int64(1) << uint(8*len(buf))
	v = ((v+delta)%mod + mod) % mod
	writeLittleEndian(buf, v)
}

func readLittleEndian(buf []byte) int64 {
	var v int64
	for i, b := range buf {
		v |= int64(b) << uint(8*i)
	}
	return v
}

// writeLittleEndian writes v's two's-complement representation into buf,
// truncated to len(buf) bytes, per spec.md §4.2.1 ("Negative values are
// written two's-complement in the given width").
func writeLittleEndian(buf []byte, v int64) {
	mod := int64(1) << uint(8*len(buf))
	uv := ((v % mod) + mod) % mod
	for i := range buf {
		buf[i] = byte(uv >> uint(8*i))
	}
}
