package main

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"envelope-rpc/internal/tracker"
	"envelope-rpc/server"
)

func startDaemon(t *testing.T, opts ...tracker.StoreOption) string {
	t.Helper()
	svr := server.NewServer()
	if err := tracker.Register(svr, tracker.NewStore(opts...)); err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(ln, ln.Addr().String(), nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return ln.Addr().String()
}

func noEnv(string) string { return "" }

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr, noEnv)
	return code, stdout.String(), stderr.String()
}

func TestCommands(t *testing.T) {
	addr := startDaemon(t)

	code, _, stderr := runCLI(t, "-addr", addr, "list")
	if code != exitOK || !strings.Contains(stderr, "No TV shows are being tracked yet") {
		t.Fatalf("empty list: code %d, stderr %q", code, stderr)
	}

	code, stdout, _ := runCLI(t, "-addr", addr, "add", "1", "The", "Wire")
	if code != exitOK || stdout != "TV show \"The Wire\" is now being tracked\n" {
		t.Fatalf("add: code %d, stdout %q", code, stdout)
	}
	runCLI(t, "-addr", addr, "add", "22")

	code, stdout, _ = runCLI(t, "-addr", addr, "list")
	want := "ID  NAME\n1   The Wire\n22  22\n"
	if code != exitOK || stdout != want {
		t.Fatalf("list: code %d, stdout %q, want %q", code, stdout, want)
	}

	code, stdout, _ = runCLI(t, "-addr", addr, "rm", "1")
	if code != exitOK || stdout != "TV show with ID \"1\" is no longer being tracked\n" {
		t.Fatalf("rm: code %d, stdout %q", code, stdout)
	}
}

func TestRequestError(t *testing.T) {
	addr := startDaemon(t)

	code, _, stderr := runCLI(t, "-addr", addr, "rm", "404")
	if code != exitFailed {
		t.Fatalf("expect exit code %d, got %d", exitFailed, code)
	}
	if stderr != "Command 'rm' failed\ntv show 404: not being tracked\n" {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestServerError(t *testing.T) {
	addr := startDaemon(t, tracker.WithCapacity(1))
	runCLI(t, "-addr", addr, "add", "1")

	code, _, stderr := runCLI(t, "-addr", addr, "add", "2")
	if code != exitFailed || stderr != "Command 'add' failed due to a SERVER ERROR: tracked list is full\n" {
		t.Fatalf("unexpected result %d %q", code, stderr)
	}
}

func TestConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	code, _, stderr := runCLI(t, "-addr", addr, "list")
	if code != exitFailed {
		t.Fatalf("expect exit code %d, got %d", exitFailed, code)
	}
	if !strings.HasPrefix(stderr, "Command 'list' failed due to a connection error\nWas unable to reach the daemon at "+addr) {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestUsage(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"add"},
		{"rm"},
		{"rm", "1", "2"},
		{"list", "x"},
		{"watch"},
	} {
		code, _, stderr := runCLI(t, args...)
		if code != exitUsage || !strings.HasPrefix(stderr, "Usage:") {
			t.Errorf("run(%v): code %d, stderr %q", args, code, stderr)
		}
	}
}
