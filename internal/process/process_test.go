//go:build !windows

package process

import (
	"bufio"
	"testing"
	"time"
)

func TestStartEcho(t *testing.T) {
	p, err := Start(StartOptions{
		Command: "/bin/sh",
		Args:    []string{"-c", `while read line; do echo "$line"; done`},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Kill()

	if p.PID() <= 0 {
		t.Errorf("expected positive pid, got %d", p.PID())
	}

	if err := p.WriteLine([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("WriteLine failed: %v", err)
	}

	scanner := bufio.NewScanner(p.Stdout())
	if !scanner.Scan() {
		t.Fatalf("expected echoed line, got scan error: %v", scanner.Err())
	}
	if got := scanner.Text(); got != `{"type":"ping"}` {
		t.Errorf("expected echoed line, got %q", got)
	}

	if err := p.CloseStdin(); err != nil {
		t.Fatalf("CloseStdin failed: %v", err)
	}
	code, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 0 {
		t.Errorf("expected exit 0, got %d", code)
	}
}

func TestWaitExitCode(t *testing.T) {
	p, err := Start(StartOptions{
		Command: "/bin/sh",
		Args:    []string{"-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	code, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 3 {
		t.Errorf("expected exit 3, got %d", code)
	}
}

func TestKill(t *testing.T) {
	p, err := Start(StartOptions{
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 60"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	done := make(chan int, 1)
	go func() {
		code, _ := p.Wait()
		done <- code
	}()
	select {
	case code := <-done:
		if code != -1 {
			t.Errorf("expected -1 for signal death, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Kill")
	}
}

func TestWriteLineAfterCloseStdin(t *testing.T) {
	p, err := Start(StartOptions{
		Command: "/bin/sh",
		Args:    []string{"-c", "cat >/dev/null"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Kill()

	if err := p.CloseStdin(); err != nil {
		t.Fatalf("CloseStdin failed: %v", err)
	}
	if err := p.WriteLine([]byte("x")); err == nil {
		t.Error("expected error writing after CloseStdin")
	}
}
