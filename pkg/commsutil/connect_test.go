package commsutil

import (
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

const connectTestPrefix = "commsutil:connect_test"

func TestConnect_InvalidURL(t *testing.T) {
	nc, err := Connect("invalid://not-a-nats-server", "test-client")
	if err == nil {
		nc.Close()
		t.Fatalf("%s - expected error for invalid URL", connectTestPrefix)
	}
	if nc != nil {
		t.Errorf("%s - expected nil connection on error", connectTestPrefix)
	}
}

func TestConnect_ExtraOptionsOverrideDefaults(t *testing.T) {
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: 14254, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", connectTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", connectTestPrefix)
	}
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}()

	nc, err := Connect(ns.ClientURL(), "cim-broker-agent-listeners", comms.MaxReconnects(3))
	if err != nil {
		t.Fatalf("%s - Connect: %v", connectTestPrefix, err)
	}
	defer nc.Close()

	if nc.Opts.Name != "cim-broker-agent-listeners" {
		t.Errorf("%s - Name = %q", connectTestPrefix, nc.Opts.Name)
	}
	if nc.Opts.MaxReconnect != 3 {
		t.Errorf("%s - MaxReconnect = %d, want 3", connectTestPrefix, nc.Opts.MaxReconnect)
	}
	if nc.Opts.ReconnectWait != 2*time.Second {
		t.Errorf("%s - ReconnectWait = %v, want default", connectTestPrefix, nc.Opts.ReconnectWait)
	}
}
