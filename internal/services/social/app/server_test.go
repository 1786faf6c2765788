package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestServerLifecycle(t *testing.T) {
	t.Setenv("HALCYON_SOCIAL_DB_PATH", filepath.Join(t.TempDir(), "social.db"))

	server, err := NewWithAddr("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if server.Addr() == "" {
		t.Fatal("empty listener address")
	}
	engines := server.Engines()
	if engines.Requests == nil || engines.Groups == nil || engines.Connections == nil ||
		engines.Tokens == nil || engines.Names == nil || engines.Friends == nil {
		t.Fatalf("engines not wired: %+v", engines)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerEnginesShareStore(t *testing.T) {
	t.Setenv("HALCYON_SOCIAL_DB_PATH", filepath.Join(t.TempDir(), "social.db"))

	server, err := NewWithAddr("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer server.Close()
	ctx := context.Background()

	// A request created through one engine is visible through the ledger.
	key, err := server.Engines().Connections.RequestConnection(ctx, 1, 10, 11, true, nil, nil, false)
	if err != nil {
		t.Fatalf("request connection: %v", err)
	}
	if key == "" {
		t.Fatal("empty request key")
	}
	if err := server.Engines().Connections.ApproveConnection(ctx, 1, 11, 10, key, nil, false); err != nil {
		t.Fatalf("approve: %v", err)
	}
	connected, err := server.Engines().Connections.ListConnections(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list connections: %v", err)
	}
	if len(connected) != 1 || connected[0] != 11 {
		t.Fatalf("connections = %v", connected)
	}
}
