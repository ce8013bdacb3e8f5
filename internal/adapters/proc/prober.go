// Package proc probes child process liveness by pid existence. A dead pid
// can be reused by an unrelated process between invocations, so probes also
// compare the OS-reported process start time against the recorded one.
package proc

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bnema/kdbg/internal/ports"
)

// Linux exposes starttime in clock ticks; USER_HZ is 100 on every supported
// configuration.
const clockTicksPerSecond = 100

// startTimeTolerance absorbs rounding between tick-derived and wall-clock
// recorded times.
const startTimeTolerance = 2 * time.Second

type Prober struct{}

var _ ports.ProcessProber = Prober{}

func (Prober) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// StartTime derives the process start time from /proc/<pid>/stat field 22
// plus the boot time in /proc/stat.
func (Prober) StartTime(pid int) (time.Time, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return time.Time{}, fmt.Errorf("read process stat: %w", err)
	}

	// The comm field is parenthesized and may contain spaces; fields are
	// counted after the closing parenthesis.
	stat := string(data)
	closing := strings.LastIndex(stat, ")")
	if closing < 0 {
		return time.Time{}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(stat[closing+1:])
	// starttime is field 22 overall; 19 fields past comm and state.
	if len(fields) < 20 {
		return time.Time{}, fmt.Errorf("malformed stat for pid %d", pid)
	}

	ticks, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse starttime for pid %d: %w", pid, err)
	}

	boot, err := bootTime()
	if err != nil {
		return time.Time{}, err
	}

	return boot.Add(time.Duration(ticks) * time.Second / clockTicksPerSecond), nil
}

func (p Prober) SameProcess(pid int, recorded time.Time) bool {
	if !p.Alive(pid) {
		return false
	}
	if recorded.IsZero() {
		// Records written before start times were tracked: existence is
		// the best available evidence.
		return true
	}

	actual, err := p.StartTime(pid)
	if err != nil {
		return false
	}

	delta := actual.Sub(recorded)
	if delta < 0 {
		delta = -delta
	}
	return delta <= startTimeTolerance
}

func (Prober) Terminate(pid int) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	return nil
}

func (Prober) Kill(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}

func bootTime() (time.Time, error) {
	file, err := os.Open("/proc/stat")
	if err != nil {
		return time.Time{}, fmt.Errorf("read boot time: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "btime ") {
			continue
		}
		seconds, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "btime ")), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse boot time: %w", err)
		}
		return time.Unix(seconds, 0), nil
	}

	return time.Time{}, errors.New("btime not present in /proc/stat")
}
