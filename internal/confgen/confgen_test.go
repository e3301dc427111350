package confgen

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/lkimju1/v2n-subsync/internal/applog"
	"github.com/lkimju1/v2n-subsync/internal/subscribe"
)

func discardLogger() *applog.Logger {
	return applog.NewWithWriter(io.Discard, applog.LevelWarn)
}

func vmessEndpoint() subscribe.Endpoint {
	return subscribe.Endpoint{
		Type: subscribe.NodeVMess,
		Desc: "node1",
		VMess: &subscribe.VMessRecord{
			Address:  "1.2.3.4",
			Port:     443,
			ID:       "u1",
			AlterID:  0,
			Network:  "ws",
			Security: "tls",
			Path:     "/x",
			Host:     "example.com",
			Desc:     "node1",
		},
	}
}

func vlessEndpoint() subscribe.Endpoint {
	return subscribe.Endpoint{
		Type: subscribe.NodeVLess,
		Desc: "My Node",
		UserHost: &subscribe.UserHostRecord{
			UserID:     "2f4a8b9c-1111-2222-3333-444455556666",
			Address:    "1.2.3.4",
			Port:       443,
			Network:    "tcp",
			Security:   "tls",
			Host:       "sni.example",
			Encryption: "none",
			Flow:       "xtls-rprx",
		},
	}
}

func TestSynthesizeVMessWSTLS(t *testing.T) {
	doc, err := Synthesize(vmessEndpoint(), discardLogger())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(doc.Outbounds) != 1 {
		t.Fatalf("expected one outbound, got %d", len(doc.Outbounds))
	}
	ob := doc.Outbounds[0]
	if ob.Protocol != "vmess" {
		t.Fatalf("unexpected protocol: %s", ob.Protocol)
	}
	vnext := ob.Settings.Vnext
	if len(vnext) != 1 || vnext[0].Address != "1.2.3.4" || vnext[0].Port != 443 {
		t.Fatalf("unexpected vnext: %+v", vnext)
	}
	if len(vnext[0].Users) != 1 || vnext[0].Users[0].ID != "u1" {
		t.Fatalf("unexpected users: %+v", vnext[0].Users)
	}
	if vnext[0].Users[0].AlterID == nil || *vnext[0].Users[0].AlterID != 0 {
		t.Fatalf("alterId should be present for vmess: %+v", vnext[0].Users[0])
	}
	st := ob.StreamSettings
	if st.Network != "ws" || st.WSSettings == nil || st.WSSettings.Path != "/x" {
		t.Fatalf("unexpected ws settings: %+v", st)
	}
	if st.Security != "tls" || st.TLSSettings == nil || st.TLSSettings.ServerName != "example.com" {
		t.Fatalf("unexpected tls settings: %+v", st)
	}
}

func TestSynthesizeIdempotentEncoding(t *testing.T) {
	logger := discardLogger()
	doc1, err := Synthesize(vmessEndpoint(), logger)
	if err != nil {
		t.Fatal(err)
	}
	doc2, err := Synthesize(vmessEndpoint(), logger)
	if err != nil {
		t.Fatal(err)
	}
	b1, err := doc1.Encode()
	if err != nil {
		t.Fatal(err)
	}
	b2, err := doc2.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("encodings differ:\n%s\n%s", b1, b2)
	}
}

func TestSynthesizeVLessTCPTLS(t *testing.T) {
	doc, err := Synthesize(vlessEndpoint(), discardLogger())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	ob := doc.Outbounds[0]
	if ob.Protocol != "vless" {
		t.Fatalf("unexpected protocol: %s", ob.Protocol)
	}
	user := ob.Settings.Vnext[0].Users[0]
	if user.ID != "2f4a8b9c-1111-2222-3333-444455556666" || user.Encryption != "none" || user.Flow != "xtls-rprx" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.AlterID != nil {
		t.Fatalf("vless user must not carry alterId: %+v", user)
	}
	st := ob.StreamSettings
	if st.Network != "tcp" || st.WSSettings != nil {
		t.Fatalf("tcp must have no transport sub-settings: %+v", st)
	}
	if st.Security != "tls" || st.TLSSettings == nil || st.TLSSettings.ServerName != "sni.example" {
		t.Fatalf("unexpected tls settings: %+v", st)
	}
}

func TestSynthesizeTrojanXTLS(t *testing.T) {
	ep := subscribe.Endpoint{
		Type: subscribe.NodeTrojan,
		Desc: "Troy",
		UserHost: &subscribe.UserHostRecord{
			UserID:   "deadbeef",
			Address:  "9.9.9.9",
			Port:     8443,
			Network:  "ws",
			Security: "xtls",
			Host:     "t.example",
			Path:     "/ws",
		},
	}
	doc, err := Synthesize(ep, discardLogger())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	ob := doc.Outbounds[0]
	if ob.Protocol != "trojan" {
		t.Fatalf("unexpected protocol: %s", ob.Protocol)
	}
	servers := ob.Settings.Servers
	if len(servers) != 1 || servers[0].Address != "9.9.9.9" || servers[0].Port != 8443 || servers[0].Password != "deadbeef" {
		t.Fatalf("unexpected servers: %+v", servers)
	}
	st := ob.StreamSettings
	if st.Security != "xtls" || st.XTLSSettings == nil || st.XTLSSettings.ServerName != "t.example" {
		t.Fatalf("unexpected xtls settings: %+v", st)
	}
	if st.TLSSettings != nil {
		t.Fatalf("tls settings must not be set alongside xtls: %+v", st)
	}
}

func TestSynthesizeUnsupported(t *testing.T) {
	grpc := vmessEndpoint()
	grpc.VMess.Network = "grpc"

	vmessXTLS := vmessEndpoint()
	vmessXTLS.VMess.Security = "xtls"

	badSecurity := vlessEndpoint()
	badSecurity.UserHost.Security = "reality"

	missing := vmessEndpoint()
	missing.VMess.Address = ""

	cases := map[string]subscribe.Endpoint{
		"grpc network":     grpc,
		"vmess xtls":       vmessXTLS,
		"unknown security": badSecurity,
		"missing address":  missing,
		"unknown type":     {Type: subscribe.NodeUnknown, Desc: subscribe.UnknownDesc},
	}
	for name, ep := range cases {
		doc, err := Synthesize(ep, discardLogger())
		if !errors.Is(err, ErrUnsupported) {
			t.Fatalf("%s: expected ErrUnsupported, got %v", name, err)
		}
		if doc != nil {
			t.Fatalf("%s: no document should be emitted, got %+v", name, doc)
		}
	}
}

func TestSynthesizeEmptySecurityNormalizesToNone(t *testing.T) {
	ep := vmessEndpoint()
	ep.VMess.Security = ""
	doc, err := Synthesize(ep, discardLogger())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	st := doc.Outbounds[0].StreamSettings
	if st.Security != "none" || st.TLSSettings != nil {
		t.Fatalf("unexpected stream settings: %+v", st)
	}
}

func TestSynthesizeHostSNIMismatchWarnsAndUsesHost(t *testing.T) {
	var buf bytes.Buffer
	logger := applog.NewWithWriter(&buf, applog.LevelWarn)
	ep := vlessEndpoint()
	ep.UserHost.SNI = "other.example"

	doc, err := Synthesize(ep, logger)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if got := doc.Outbounds[0].StreamSettings.TLSSettings.ServerName; got != "sni.example" {
		t.Fatalf("host must win as serverName, got %q", got)
	}
	if !strings.Contains(buf.String(), "differ") {
		t.Fatalf("expected mismatch warning, got: %s", buf.String())
	}
}

func TestWithServerNameAddress(t *testing.T) {
	doc, err := Synthesize(vlessEndpoint(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	alt, ok := doc.WithServerNameAddress()
	if !ok {
		t.Fatal("expected override document")
	}
	if got := alt.Outbounds[0].Settings.Vnext[0].Address; got != "sni.example" {
		t.Fatalf("unexpected override address: %q", got)
	}
	// the source document is untouched
	if got := doc.Outbounds[0].Settings.Vnext[0].Address; got != "1.2.3.4" {
		t.Fatalf("source document was mutated: %q", got)
	}

	alt.Outbounds[0].StreamSettings.TLSSettings.ServerName = "changed"
	if doc.Outbounds[0].StreamSettings.TLSSettings.ServerName != "sni.example" {
		t.Fatal("override shares sub-settings with the source document")
	}
}

func TestWithServerNameAddressTrojan(t *testing.T) {
	ep := subscribe.Endpoint{
		Type: subscribe.NodeTrojan,
		UserHost: &subscribe.UserHostRecord{
			UserID: "deadbeef", Address: "9.9.9.9", Port: 8443,
			Network: "tcp", Security: "tls", Host: "t.example",
		},
	}
	doc, err := Synthesize(ep, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	alt, ok := doc.WithServerNameAddress()
	if !ok {
		t.Fatal("expected override document")
	}
	if got := alt.Outbounds[0].Settings.Servers[0].Address; got != "t.example" {
		t.Fatalf("unexpected override address: %q", got)
	}
	if got := doc.Outbounds[0].Settings.Servers[0].Address; got != "9.9.9.9" {
		t.Fatalf("source document was mutated: %q", got)
	}
}

func TestWithServerNameAddressAbsent(t *testing.T) {
	ep := vmessEndpoint()
	ep.VMess.Security = ""
	doc, err := Synthesize(ep, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if alt, ok := doc.WithServerNameAddress(); ok || alt != nil {
		t.Fatalf("expected no override document, got %+v", alt)
	}

	ep = vmessEndpoint()
	ep.VMess.Host = ""
	doc, err = Synthesize(ep, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.WithServerNameAddress(); ok {
		t.Fatal("empty serverName must not produce an override")
	}
}
