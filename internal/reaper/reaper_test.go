package reaper

import (
	"bytes"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mash-shell/mash/internal/job"
	"github.com/mash-shell/mash/internal/jobs"
)

func testReaper(t *testing.T) (*Reaper, *jobs.Registry, *bytes.Buffer) {
	t.Helper()
	off := false
	reg := jobs.New(0, &off)
	var buf bytes.Buffer
	r := Start(reg, &buf, true)
	// Uninstall immediately so the dispatch goroutine cannot race the
	// explicit Reap calls below.
	r.Stop()
	return r, reg, &buf
}

// spawn starts a short-lived child and waits for it to become reapable.
func spawn(t *testing.T, script string) int {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	time.Sleep(100 * time.Millisecond)
	return pid
}

// spawnStopped starts a long-lived child, stops it, and waits for the
// stop to land. The child is killed and reaped at cleanup.
func spawnStopped(t *testing.T) int {
	t.Helper()
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
	time.Sleep(100 * time.Millisecond)
	return pid
}

func TestReapReportsBackgroundCompletionOnce(t *testing.T) {
	r, reg, buf := testReaper(t)

	pid := spawn(t, "exit 3")
	j := job.NewJob()
	j.Line = "sh -c 'exit 3' &"
	p := job.NewProcess()
	p.Pid = pid
	j.Procs = []*job.Process{p}
	reg.SendToBackground(j, false)

	r.Reap()
	out := buf.String()
	if !strings.Contains(out, "[1] completed. Exit: 3") {
		t.Fatalf("completion notice missing: %q", out)
	}
	if strings.Count(out, "completed") != 1 {
		t.Fatalf("completion reported more than once: %q", out)
	}

	buf.Reset()
	r.Reap()
	if buf.Len() != 0 {
		t.Fatalf("second reap produced output: %q", buf.String())
	}
}

func TestReapCollectsActiveChildSilently(t *testing.T) {
	r, reg, buf := testReaper(t)

	pid := spawn(t, "exit 7")
	reg.SetActiveChild(pid)

	r.Reap()
	if buf.Len() != 0 {
		t.Fatalf("active child reap produced output: %q", buf.String())
	}
	if reg.ActiveChild() != 0 {
		t.Fatal("active child slot not cleared")
	}
}

func TestReapNoChildrenClearsActiveOnFirstPass(t *testing.T) {
	r, reg, buf := testReaper(t)

	// No children exist: the wait reports ECHILD immediately, which on
	// the first pass means the tracked child is already gone.
	reg.SetActiveChild(99999)
	r.Reap()
	if reg.ActiveChild() != 0 {
		t.Fatal("stale active child survived an empty reap")
	}
	if buf.Len() != 0 {
		t.Fatalf("empty reap produced output: %q", buf.String())
	}
}

// A stop is not a termination: reaping while the foreground wait is
// blocked on a child that just stopped must leave both the tracking
// slot and the queued stop status for that wait to consume. Consuming
// either here would strand the shell blocked on a live stopped child.
func TestReapLeavesActiveStopForForegroundWait(t *testing.T) {
	r, reg, buf := testReaper(t)

	pid := spawnStopped(t)
	reg.SetActiveChild(pid)

	r.Reap()
	if buf.Len() != 0 {
		t.Fatalf("stopped active child produced output: %q", buf.String())
	}
	if reg.ActiveChild() != pid {
		t.Fatalf("active child slot changed: %d", reg.ActiveChild())
	}

	var ws unix.WaitStatus
	wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG|unix.WUNTRACED, nil)
	if err != nil || wpid != pid || !ws.Stopped() {
		t.Fatalf("stop status no longer pending: pid=%d err=%v", wpid, err)
	}
}

func TestReapMarksStoppedBackgroundJob(t *testing.T) {
	r, reg, buf := testReaper(t)

	pid := spawnStopped(t)
	j := job.NewJob()
	j.Line = "sleep 30 &"
	p := job.NewProcess()
	p.Pid = pid
	j.Procs = []*job.Process{p}
	reg.SendToBackground(j, false)

	r.Reap()
	if !j.Stopped {
		t.Fatal("stopped background job not marked")
	}
	if strings.Contains(buf.String(), "completed") {
		t.Fatalf("stop reported as a completion: %q", buf.String())
	}
	if _, ok := reg.Find(1); !ok {
		t.Fatal("stopped job was retired")
	}
}

func TestReapMixedChildren(t *testing.T) {
	r, reg, buf := testReaper(t)

	active := spawn(t, "exit 0")
	background := spawn(t, "exit 9")
	reg.SetActiveChild(active)

	j := job.NewJob()
	j.Line = "sh -c 'exit 9' &"
	p := job.NewProcess()
	p.Pid = background
	j.Procs = []*job.Process{p}
	reg.SendToBackground(j, false)

	r.Reap()
	if reg.ActiveChild() != 0 {
		t.Fatal("active child not collected")
	}
	if !strings.Contains(buf.String(), "[1] completed. Exit: 9") {
		t.Fatalf("background completion missing: %q", buf.String())
	}
}

// lockedBuffer lets the test read what the dispatch goroutine writes.
type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func TestQuitNotice(t *testing.T) {
	off := false
	reg := jobs.New(0, &off)
	var out lockedBuffer
	r := Start(reg, &out, false)
	defer r.Stop()

	if err := unix.Kill(os.Getpid(), unix.SIGQUIT); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), "Quit (core dumped)") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("quit notice not written: %q", out.String())
}
