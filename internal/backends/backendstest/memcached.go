// Package backendstest provides in-process stand-ins for cache servers.
package backendstest

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
)

// MemcachedServer answers the memcached "version" command, which is all the
// client's Ping needs.
type MemcachedServer struct {
	ln    net.Listener
	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewMemcachedServer starts a server on a loopback port and stops it when
// the test ends.
func NewMemcachedServer(t testing.TB) *MemcachedServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &MemcachedServer{ln: ln, conns: make(map[net.Conn]struct{})}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *MemcachedServer) Addr() string { return s.ln.Addr().String() }

func (s *MemcachedServer) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *MemcachedServer) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handle(c)
	}
}

func (s *MemcachedServer) handle(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.Close()
	}()
	r := bufio.NewReader(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		switch strings.TrimSpace(line) {
		case "version":
			_, err = c.Write([]byte("VERSION 1.6.21\r\n"))
		default:
			_, err = c.Write([]byte("ERROR\r\n"))
		}
		if err != nil {
			return
		}
	}
}

// DeadAddr returns a loopback address with nothing listening on it.
func DeadAddr(t testing.TB) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
