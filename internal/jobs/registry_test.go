package jobs

import (
	"os/exec"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/mash-shell/mash/internal/job"
)

func testRegistry() *Registry {
	off := false
	return New(0, &off)
}

func bgJob(line string, pids ...int) *job.Job {
	j := job.NewJob()
	j.Line = line
	for _, pid := range pids {
		p := job.NewProcess()
		p.Pid = pid
		j.Procs = append(j.Procs, p)
	}
	return j
}

func TestAddAssignsStableNumbers(t *testing.T) {
	r := testRegistry()
	a := bgJob("a", 11)
	b := bgJob("b", 22)

	if num := r.Add(a); num != 1 {
		t.Fatalf("first job number = %d", num)
	}
	if num := r.Add(b); num != 2 {
		t.Fatalf("second job number = %d", num)
	}
	if num := r.Add(a); num != 1 {
		t.Fatalf("re-adding changed the number: %d", num)
	}
	if got := r.Number(b); got != 2 {
		t.Fatalf("Number(b) = %d", got)
	}
}

func TestCurrentIsMostRecent(t *testing.T) {
	r := testRegistry()
	if _, _, ok := r.Current(); ok {
		t.Fatal("empty registry has a current job")
	}
	r.Add(bgJob("a", 11))
	b := bgJob("b", 22)
	r.Add(b)
	j, num, ok := r.Current()
	if !ok || j != b || num != 2 {
		t.Fatalf("Current = %v %d %v", j, num, ok)
	}
}

func TestRemoveBackgroundRetiresWholeJob(t *testing.T) {
	r := testRegistry()
	j := bgJob("x | y", 11, 22)
	r.Add(j)

	num, done := r.RemoveBackground(11, 0)
	if num != 1 || done {
		t.Fatalf("first stage reap: num=%d done=%v", num, done)
	}
	num, done = r.RemoveBackground(22, 3)
	if num != 1 || !done {
		t.Fatalf("last stage reap: num=%d done=%v", num, done)
	}
	if _, ok := r.Find(1); ok {
		t.Fatal("completed job still tracked")
	}
	if j.Procs[1].ExitCode != 3 {
		t.Fatalf("status not recorded: %d", j.Procs[1].ExitCode)
	}

	if _, done := r.RemoveBackground(999, 0); done {
		t.Fatal("unknown pid reported done")
	}
}

func TestFormatJobInfo(t *testing.T) {
	r := testRegistry()
	j := bgJob("sleep 5 &", 11)
	r.Add(j)
	info := r.FormatJobInfo(j, "launched")
	if !strings.HasPrefix(info, "[1] launched") || !strings.Contains(info, "sleep 5 &") {
		t.Fatalf("info = %q", info)
	}
}

func TestExitCodeCell(t *testing.T) {
	r := testRegistry()
	if r.ExitCode() != 0 {
		t.Fatalf("initial exit code %d", r.ExitCode())
	}
	r.SetExitCode(CodeInterrupt)
	if r.ExitCode() != 130 {
		t.Fatalf("exit code %d", r.ExitCode())
	}
}

func TestTrackedPids(t *testing.T) {
	r := testRegistry()
	j := bgJob("x | y", 22, 11)
	r.Add(j)
	j.Procs[0].Completed = true

	got := r.TrackedPids()
	if len(got) != 1 || got[0] != 11 {
		t.Fatalf("TrackedPids = %v", got)
	}
}

func TestActiveChildProtocol(t *testing.T) {
	r := testRegistry()
	if r.ActiveChild() != 0 {
		t.Fatal("active child set at startup")
	}
	r.SetActiveChild(4242)
	if r.ActiveChild() != 4242 {
		t.Fatal("active child not visible")
	}
	r.CollectActiveChild(9)
	if r.ActiveChild() != 0 {
		t.Fatal("collect did not clear the slot")
	}
	if r.activeStatus.Load() != 9 {
		t.Fatal("collected status lost")
	}
}

func TestStatusCode(t *testing.T) {
	// Raw wait statuses: exit code in the high byte, signal in the low.
	exited := unix.WaitStatus(3 << 8)
	if got := StatusCode(exited); got != 3 {
		t.Fatalf("exited: %d", got)
	}
	killed := unix.WaitStatus(unix.SIGKILL)
	if got := StatusCode(killed); got != 128+int(unix.SIGKILL) {
		t.Fatalf("signaled: %d", got)
	}
	stopped := unix.WaitStatus(0x7f | int32(unix.SIGTSTP)<<8)
	if got := StatusCode(stopped); got != 128+int(unix.SIGTSTP) {
		t.Fatalf("stopped: %d", got)
	}
}

func TestWaitForJobCollectsRealChild(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 5")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}

	r := testRegistry()
	j := bgJob("sh -c 'exit 5'", cmd.Process.Pid)
	status := r.WaitForJob(j)
	if status != 5 {
		t.Fatalf("status = %d, want 5", status)
	}
	if !j.Completed() {
		t.Fatal("job not marked completed")
	}
	if r.ActiveChild() != 0 {
		t.Fatal("active child left set after wait")
	}
	// The registry reaped the child out from under exec.Cmd; release
	// the handle without waiting on it.
	_ = cmd.Process.Release()
}

func TestWaitForJobReportsStop(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	t.Cleanup(func() {
		_ = unix.Kill(pid, unix.SIGKILL)
		var ws unix.WaitStatus
		_, _ = unix.Wait4(pid, &ws, 0, nil)
	})
	_ = unix.Kill(pid, unix.SIGSTOP)

	r := testRegistry()
	j := bgJob("sleep 30", pid)
	status := r.WaitForJob(j)
	if !j.Stopped {
		t.Fatal("job not marked stopped")
	}
	if status != 128+int(unix.SIGSTOP) {
		t.Fatalf("status = %d, want %d", status, 128+int(unix.SIGSTOP))
	}
	if j.Procs[0].Completed {
		t.Fatal("stopped stage marked completed")
	}
}

func TestSetActiveChildDiscardsParkedStatus(t *testing.T) {
	r := testRegistry()
	// A status parked for an earlier child must not leak into the next
	// wait's recovery path.
	r.SetActiveChild(11111)
	r.CollectActiveChild(7)

	j := bgJob("true", 999999)
	if status := r.WaitForJob(j); status != 0 {
		t.Fatalf("stale parked status leaked: %d", status)
	}
}
