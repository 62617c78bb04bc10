package indication

import (
	"context"
	"errors"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/message"
)

const clientTestPrefix = "indication:client_test"

func startTestServer(t *testing.T, port int) *comms.Conn {
	t.Helper()

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", clientTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", clientTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", clientTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

// serveIndications answers NotifyProviderFail with reply and sends every
// other request to seen.
func serveIndications(t *testing.T, nc *comms.Conn, subject string, reply func(req *message.Message) *message.Message, seen chan<- *message.Message) {
	t.Helper()
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		req := message.Decode(msg.Data)
		if req == nil {
			t.Errorf("%s - service got undecodable request", clientTestPrefix)
			return
		}
		if req.Type != message.TypeNotifyProviderFailRequest {
			seen <- req
			return
		}
		b, err := message.Encode(reply(req))
		if err != nil {
			t.Errorf("%s - encode reply: %v", clientTestPrefix, err)
			return
		}
		_ = msg.Respond(b)
	})
	if err != nil {
		t.Fatalf("%s - subscribe: %v", clientTestPrefix, err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
}

func TestNotifyProviderFail_ReturnsAffectedCount(t *testing.T) {
	nc := startTestServer(t, 14240)
	serveIndications(t, nc, "cim.indicationservice", func(req *message.Message) *message.Message {
		body, _ := message.BodyAs[*message.NotifyProviderFailRequest](req)
		resp := message.BuildResponse(req)
		if body.ModuleName == "OSModule" && body.UserName == "alice" {
			resp.Body.(*message.NotifyProviderFailResponse).NumSubscriptionsAffected = 3
		}
		return resp
	}, nil)

	c := NewClient(nc, nil)
	n, err := c.NotifyProviderFail(context.Background(), "OSModule", "alice")
	if err != nil {
		t.Fatalf("%s - NotifyProviderFail: %v", clientTestPrefix, err)
	}
	if n != 3 {
		t.Errorf("%s - affected = %d, want 3", clientTestPrefix, n)
	}
}

func TestNotifyProviderFail_ServiceError(t *testing.T) {
	nc := startTestServer(t, 14241)
	serveIndications(t, nc, "custom.indications", func(req *message.Message) *message.Message {
		resp := message.BuildResponse(req)
		resp.SetError(cim.NewError(cim.StatusAccessDenied, "denied"))
		return resp
	}, nil)

	c := NewClient(nc, &ClientOpts{Subject: "custom.indications", Timeout: 2 * time.Second})
	_, err := c.NotifyProviderFail(context.Background(), "OSModule", "")
	if !cim.IsStatus(err, cim.StatusAccessDenied) {
		t.Errorf("%s - expected ACCESS_DENIED, got %v", clientTestPrefix, err)
	}
}

func TestNotifyProviderFail_NoService(t *testing.T) {
	nc := startTestServer(t, 14242)

	c := NewClient(nc, nil)
	if !c.Available() {
		t.Fatalf("%s - expected connected client to be available", clientTestPrefix)
	}
	_, err := c.NotifyProviderFail(context.Background(), "OSModule", "")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("%s - expected ErrUnavailable, got %v", clientTestPrefix, err)
	}
}

func TestNotifyProviderFail_NilConn(t *testing.T) {
	c := NewClient(nil, nil)
	if c.Available() {
		t.Errorf("%s - nil connection reported available", clientTestPrefix)
	}
	if _, err := c.NotifyProviderFail(context.Background(), "m", ""); !errors.Is(err, ErrUnavailable) {
		t.Errorf("%s - expected ErrUnavailable, got %v", clientTestPrefix, err)
	}
}

func TestDeliverIndication(t *testing.T) {
	nc := startTestServer(t, 14243)
	seen := make(chan *message.Message, 1)
	serveIndications(t, nc, "cim.indicationservice", nil, seen)

	ind := cim.NewInstance("CIM_AlertIndication")
	req := message.New(&message.ProcessIndicationRequest{NameSpace: "root/cimv2", IndicationInstance: ind})
	c := NewClient(nc, nil)
	if err := c.DeliverIndication(req); err != nil {
		t.Fatalf("%s - DeliverIndication: %v", clientTestPrefix, err)
	}

	select {
	case got := <-seen:
		if got.ID != req.ID {
			t.Errorf("%s - delivered id = %s, want %s", clientTestPrefix, got.ID, req.ID)
		}
		body, _ := message.BodyAs[*message.ProcessIndicationRequest](got)
		if body.NameSpace != "root/cimv2" {
			t.Errorf("%s - namespace = %q", clientTestPrefix, body.NameSpace)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for indication", clientTestPrefix)
	}
}

func TestDeliverIndication_RejectsOtherTypes(t *testing.T) {
	c := NewClient(nil, nil)
	if err := c.DeliverIndication(message.New(&message.StopAllProvidersRequest{})); err == nil {
		t.Errorf("%s - expected error for non-indication request", clientTestPrefix)
	}
}
