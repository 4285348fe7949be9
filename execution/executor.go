package execution

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// argPlaceholder is substituted with the path of a temp file holding
// the mutant when a target takes its input as a file argument rather
// than on stdin, per spec.md §4.5's argv-substitution contract.
const argPlaceholder = "@@"

// maxOutputBytes bounds how much of stdout/stderr is retained per run,
// grounded on go-fuzz/testee.go's testeeBufferSize (1<<20) trimming
// rule, applied here via tailBuffer instead of the teacher's manual
// ring-copy.
const maxOutputBytes = 1 << 20

// maxCoverageBlocks bounds the shared-memory coverage channel's
// capacity, mirroring go-fuzz-defs' fixed CoverSize region.
const maxCoverageBlocks = 1 << 16

// Executor runs one target binary under the constraints of spec.md
// §4.5: a wall-clock timeout, an optional resident-memory cap, and
// (if the target cooperates) a shared-memory coverage channel.
//
// Grounded on go-fuzz/testee.go's newTestee: process-group spawn,
// pipe-based stdin delivery, a hang-watcher goroutine that escalates
// SIGABRT then SIGKILL, generalized from "the one coordinator-managed
// testee" to "a single self-contained execution of an arbitrary
// target".
type Executor struct {
	Argv       []string
	MemLimitMB int      // 0 disables the memory watcher
	ExtraEnv   []string // e.g. sanitizer ASAN_OPTIONS/MSAN_OPTIONS/UBSAN_OPTIONS overrides

	mu  sync.Mutex
	shm *coverageChannel
}

// NewExecutor builds an Executor for the given argv template. If argv
// contains the literal "@@" token, the mutant is written to a temp
// file and its path substituted in; otherwise the mutant is delivered
// on stdin.
func NewExecutor(argv []string, memLimitMB int) *Executor {
	return &Executor{Argv: argv, MemLimitMB: memLimitMB}
}

func usesArgFile(argv []string) bool {
	for _, a := range argv {
		if strings.Contains(a, argPlaceholder) {
			return true
		}
	}
	return false
}

// Execute runs the target once against input, enforcing timeoutMS.
func (e *Executor) Execute(input []byte, timeoutMS int) (Result, error) {
	shm, err := newCoverageChannel(maxCoverageBlocks)
	if err != nil {
		// Coverage channel setup is best-effort; crash-only fuzzing still
		// works without it.
		shm = nil
	}
	if shm != nil {
		defer shm.close()
		shm.reset()
	}

	argv := append([]string(nil), e.Argv...)
	var argFile *os.File
	if usesArgFile(argv) {
		argFile, err = os.CreateTemp("", "protocrash-input-")
		if err != nil {
			return Result{}, errors.Wrap(err, "execution: create arg input file")
		}
		defer os.Remove(argFile.Name())
		if _, err := argFile.Write(input); err != nil {
			argFile.Close()
			return Result{}, errors.Wrap(err, "execution: write arg input file")
		}
		argFile.Close()
		for i, a := range argv {
			argv[i] = strings.ReplaceAll(a, argPlaceholder, argFile.Name())
		}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(), "GOTRACEBACK=1")
	cmd.Env = append(cmd.Env, e.ExtraEnv...)

	stdoutBuf := newTailBuffer(maxOutputBytes)
	stderrBuf := newTailBuffer(maxOutputBytes)
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf

	if argFile == nil {
		cmd.Stdin = bytes.NewReader(input)
	}
	if shm != nil {
		shmEnv, extraFile := shm.forChild()
		cmd.ExtraFiles = append(cmd.ExtraFiles, extraFile)
		cmd.Env = append(cmd.Env, shmEnv)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, errors.Wrap(err, "execution: start target")
	}

	timeout := time.Duration(timeoutMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var memExceeded bool
	if e.MemLimitMB > 0 {
		go e.watchMemory(ctx, cmd.Process.Pid, &memExceeded)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var (
		timedOut bool
		err2     error
	)
	select {
	case err2 = <-waitErr:
	case <-ctx.Done():
		timedOut = true
		killProcessGroup(cmd.Process.Pid, unix.SIGKILL)
		<-waitErr
	}
	wallTime := time.Since(start)

	result := Result{
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
		WallTime: wallTime,
		TimedOut: timedOut,
	}
	if shm != nil {
		result.CoverageBlocks = shm.drain()
	}
	if timedOut {
		result.HasSignal = true
		result.Signal = SignalTimeout
		return result, nil
	}
	if memExceeded {
		result.HasSignal = true
		result.Signal = int(unix.SIGKILL)
		return result, nil
	}

	classifyExit(err2, &result)
	return result, nil
}

// classifyExit normalizes os/exec's error into spec.md §4.5's
// ExitedNormally/ExitCode/Signal/HasSignal fields.
func classifyExit(err error, result *Result) {
	if err == nil {
		result.ExitedNormally = true
		result.ExitCode = 0
		return
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		// Start-time failures are reported separately; a Wait-time
		// non-ExitError is unexpected but treated as a clean non-crash.
		result.ExitedNormally = true
		return
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		result.ExitedNormally = true
		result.ExitCode = exitErr.ExitCode()
		return
	}
	if status.Signaled() {
		result.HasSignal = true
		result.Signal = int(status.Signal())
		return
	}
	result.ExitedNormally = true
	result.ExitCode = status.ExitStatus()
}

func killProcessGroup(pid int, sig syscall.Signal) {
	// Negative pid targets the whole process group created by Setpgid,
	// matching go-fuzz/testee.go's escalation to the testee's children.
	unix.Kill(-pid, sig)
}

// watchMemory polls /proc/<pid>/status for VmRSS and kills the
// process group if it exceeds MemLimitMB. Enforcement here is
// best-effort: spec.md §5 treats missed enforcement as a liveness
// risk, not a correctness one, so a 50ms poll interval is adequate.
func (e *Executor) watchMemory(ctx context.Context, pid int, exceeded *bool) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	limit := int64(e.MemLimitMB) * 1024 * 1024
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rss, err := readVmRSSBytes(pid)
			if err != nil {
				continue
			}
			if rss > limit {
				*exceeded = true
				killProcessGroup(pid, unix.SIGKILL)
				return
			}
		}
	}
}

func readVmRSSBytes(pid int) (int64, error) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, errors.New("execution: malformed VmRSS line")
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "execution: parse VmRSS")
		}
		return kb * 1024, nil
	}
	return 0, errors.New("execution: VmRSS not found")
}
