package netutil

import (
	"errors"
	"net"
	"testing"
)

func TestListenPreferredFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	got, err := Listen(addr, nil, false)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer got.Close()
	if got.Addr().String() != addr {
		t.Fatalf("Listen() addr = %q, want %q", got.Addr(), addr)
	}
}

func TestListenFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	free, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen free: %v", err)
	}
	freeAddr := free.Addr().String()
	_ = free.Close()

	got, err := Listen(busy.Addr().String(), []string{busy.Addr().String(), freeAddr}, true)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer got.Close()
	if got.Addr().String() != freeAddr {
		t.Fatalf("Listen() addr = %q, want %q", got.Addr(), freeAddr)
	}
}

func TestListenNoFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	if _, err := Listen(busy.Addr().String(), nil, false); err == nil {
		t.Fatal("Listen() on busy address without fallback succeeded")
	}
	if _, err := Listen(busy.Addr().String(), []string{busy.Addr().String()}, true); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("Listen() error = %v, want ErrNoAddress", err)
	}
}

func TestCandidates(t *testing.T) {
	got := Candidates("0.0.0.0:8190", []string{"8191", " ", "10.0.0.1:9000"})
	want := []string{"0.0.0.0:8191", "10.0.0.1:9000"}
	if len(got) != len(want) {
		t.Fatalf("Candidates() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Candidates()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
