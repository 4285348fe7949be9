//go:build unix

package execution

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// shmHeaderSize is the 4-byte little-endian entry count the target
// writes before its stream of u16 block ids.
const shmHeaderSize = 4

// coverageChannel is the mmap'd shared-memory region a cooperating
// target writes basic-block ids into. Grounded directly on
// go-fuzz/testee.go's Mapping/createMapping, generalized from "raw
// comm buffer for a purpose-built protocol" into "a coverage block-id
// stream any cooperating instrumented target can write to".
type coverageChannel struct {
	file     *os.File
	mem      []byte
	capacity int // max number of u16 block ids the region can hold
}

func newCoverageChannel(maxBlocks int) (*coverageChannel, error) {
	f, err := os.CreateTemp("", "protocrash-shm-")
	if err != nil {
		return nil, errors.Wrap(err, "execution: create shm file")
	}
	size := shmHeaderSize + maxBlocks*2
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, errors.Wrap(err, "execution: truncate shm file")
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, errors.Wrap(err, "execution: mmap shm file")
	}
	return &coverageChannel{file: f, mem: mem, capacity: maxBlocks}, nil
}

// reset clears the entry count so a fresh execution starts from zero.
func (c *coverageChannel) reset() {
	binary.LittleEndian.PutUint32(c.mem[:shmHeaderSize], 0)
}

// drain reads back however many block ids the target reported.
func (c *coverageChannel) drain() []uint16 {
	n := int(binary.LittleEndian.Uint32(c.mem[:shmHeaderSize]))
	if n > c.capacity {
		n = c.capacity
	}
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		off := shmHeaderSize + i*2
		out[i] = binary.LittleEndian.Uint16(c.mem[off : off+2])
	}
	return out
}

// coverageChannelEnvVar names the environment variable a cooperating
// target reads to learn which inherited file descriptor is the
// coverage channel. File descriptor 3 is the first of cmd.ExtraFiles.
const coverageChannelEnvVar = "PROTOCRASH_SHM_FD"

// forChild returns the environment variable assignment and the file
// to append to exec.Cmd's ExtraFiles so the child inherits the mapped
// region. Go remaps ExtraFiles entries to consecutive descriptors
// starting at 3, so the single entry here is always fd 3.
func (c *coverageChannel) forChild() (string, *os.File) {
	return coverageChannelEnvVar + "=3", c.file
}

func (c *coverageChannel) close() {
	unix.Munmap(c.mem)
	c.file.Close()
	os.Remove(c.file.Name())
}
