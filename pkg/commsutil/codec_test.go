package commsutil

import (
	"testing"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/cim-broker/pkg/cim"
)

const codecTestPrefix = "commsutil:codec_test"

func TestDecodeJSON_ProviderModule(t *testing.T) {
	pm, err := DecodeJSON[cim.ProviderModule]([]byte(`{"name":"OperatingSystemModule","interfaceVersion":"2.6.0","operationalStatus":[2]}`))
	if err != nil {
		t.Fatalf("%s - DecodeJSON: %v", codecTestPrefix, err)
	}
	if pm.Name != "OperatingSystemModule" || pm.InterfaceVersion != "2.6.0" {
		t.Errorf("%s - got %+v", codecTestPrefix, pm)
	}
	if len(pm.OperationalStatus) != 1 || pm.OperationalStatus[0] != cim.ModuleOK {
		t.Errorf("%s - OperationalStatus = %v", codecTestPrefix, pm.OperationalStatus)
	}
}

func TestDecodeJSON_Invalid(t *testing.T) {
	if _, err := DecodeJSON[cim.ProviderModule]([]byte("{not json")); err == nil {
		t.Errorf("%s - expected error for malformed payload", codecTestPrefix)
	}
}

func TestPublishJSON(t *testing.T) {
	nc := startTestServer(t, 14253)

	sub, err := nc.SubscribeSync("cim.test.json")
	if err != nil {
		t.Fatalf("%s - subscribe: %v", codecTestPrefix, err)
	}
	in := cim.ProviderModule{Name: "ListenerModule", OperationalStatus: []uint16{cim.ModuleStopped}}
	if err := PublishJSON(nc, "cim.test.json", in); err != nil {
		t.Fatalf("%s - PublishJSON: %v", codecTestPrefix, err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("%s - NextMsg: %v", codecTestPrefix, err)
	}
	out, err := DecodeJSON[cim.ProviderModule](msg.Data)
	if err != nil {
		t.Fatalf("%s - DecodeJSON: %v", codecTestPrefix, err)
	}
	if out.Name != in.Name || out.OperationalStatus[0] != cim.ModuleStopped {
		t.Errorf("%s - got %+v, want %+v", codecTestPrefix, out, in)
	}
}

func TestPublishJSON_Unserializable(t *testing.T) {
	if err := PublishJSON((*comms.Conn)(nil), "cim.test.json", make(chan int)); err == nil {
		t.Errorf("%s - expected error for channel", codecTestPrefix)
	}
}
