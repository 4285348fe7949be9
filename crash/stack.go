package crash

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
)

// frame regexes, tried in spec.md §4.6.2's stated order of
// preference: sanitizer, GDB, LLDB, Valgrind.
var (
	sanitizerFrameRE = regexp.MustCompile(`^\s*#(\d+)\s+0x([0-9a-fA-F]+)\s+in\s+(\S+)\s+(.+?):(\d+)`)
	gdbFrameRE       = regexp.MustCompile(`^#(\d+)\s+(?:0x([0-9a-fA-F]+)\s+in\s+)?(\S+)\s+\(.*\)\s+at\s+(.+?):(\d+)`)
	lldbFrameRE      = regexp.MustCompile(`^\s*frame\s+#(\d+):\s+0x([0-9a-fA-F]+)\s+\S+\s*` + "`" + `(\S+)\s+at\s+(.+?):(\d+)`)
	valgrindFrameRE  = regexp.MustCompile(`^==\d+==\s+(?:at|by)\s+0x([0-9A-Fa-f]+):\s+(\S+)\s+\((.+?):(\d+)\)`)
)

// StackTrace is a lazy, restartable sequence of frames parsed from a
// stderr tail, per spec.md §4.6.2. Parsing happens once, eagerly,
// into an internal slice; the sequence is walked with Next, restarted
// with Reset, and Top(n) returns the first few frames (e.g. for a dedup
// hash) without moving the cursor.
type StackTrace struct {
	frames []Frame
	pos    int
}

// ParseStack extracts frames from stderr by trying each dialect's
// pattern against every line, in the order sanitizer, GDB, LLDB,
// Valgrind. The first dialect to produce at least one frame wins;
// dialects are not mixed within a single stack.
func ParseStack(stderr []byte) *StackTrace {
	for _, parse := range []func([]byte) []Frame{
		parseWithRE(sanitizerFrameRE),
		parseWithRE(gdbFrameRE),
		parseWithRE(lldbFrameRE),
		parseValgrind,
	} {
		if frames := parse(stderr); len(frames) > 0 {
			return &StackTrace{frames: frames}
		}
	}
	return &StackTrace{}
}

func parseWithRE(re *regexp.Regexp) func([]byte) []Frame {
	return func(stderr []byte) []Frame {
		var frames []Frame
		s := bufio.NewScanner(bytes.NewReader(stderr))
		for s.Scan() {
			m := re.FindStringSubmatch(s.Text())
			if m == nil {
				continue
			}
			line, _ := strconv.Atoi(m[len(m)-1])
			frames = append(frames, Frame{
				Addr:     m[2],
				Function: m[3],
				File:     m[4],
				Line:     line,
			})
		}
		return frames
	}
}

func parseValgrind(stderr []byte) []Frame {
	var frames []Frame
	s := bufio.NewScanner(bytes.NewReader(stderr))
	for s.Scan() {
		m := valgrindFrameRE.FindStringSubmatch(s.Text())
		if m == nil {
			continue
		}
		line, _ := strconv.Atoi(m[4])
		frames = append(frames, Frame{
			Addr:     m[1],
			Function: m[2],
			File:     m[3],
			Line:     line,
		})
	}
	return frames
}

// Next returns the next frame in the sequence and advances the
// cursor. The second return is false once the sequence is exhausted.
func (s *StackTrace) Next() (Frame, bool) {
	if s.pos >= len(s.frames) {
		return Frame{}, false
	}
	f := s.frames[s.pos]
	s.pos++
	return f, true
}

// Reset rewinds the cursor so the sequence can be walked again.
func (s *StackTrace) Reset() { s.pos = 0 }

// Top returns up to n frames from the start without disturbing the
// cursor.
func (s *StackTrace) Top(n int) []Frame {
	if n > len(s.frames) {
		n = len(s.frames)
	}
	return append([]Frame(nil), s.frames[:n]...)
}

// Len reports the total number of parsed frames.
func (s *StackTrace) Len() int { return len(s.frames) }
