package confgen

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lkimju1/v2n-subsync/internal/applog"
	"github.com/lkimju1/v2n-subsync/internal/subscribe"
)

// ErrUnsupported marks entries the synthesizer cannot express; callers skip
// the entry and keep going.
var ErrUnsupported = errors.New("unsupported")

// Document is one generated xray config with a single outbound.
type Document struct {
	Outbounds []Outbound `json:"outbounds"`
}

type Outbound struct {
	Protocol       string         `json:"protocol"`
	Settings       Settings       `json:"settings"`
	StreamSettings StreamSettings `json:"streamSettings"`
}

type Settings struct {
	Vnext   []VnextServer  `json:"vnext,omitempty"`
	Servers []TrojanServer `json:"servers,omitempty"`
}

type VnextServer struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Users   []VnextUser `json:"users"`
}

type VnextUser struct {
	ID         string `json:"id"`
	AlterID    *int   `json:"alterId,omitempty"`
	Encryption string `json:"encryption,omitempty"`
	Flow       string `json:"flow,omitempty"`
}

type TrojanServer struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Password string `json:"password"`
}

type StreamSettings struct {
	Network      string       `json:"network"`
	Security     string       `json:"security"`
	WSSettings   *WSSettings  `json:"wsSettings,omitempty"`
	TLSSettings  *TLSSettings `json:"tlsSettings,omitempty"`
	XTLSSettings *TLSSettings `json:"xtlsSettings,omitempty"`
}

type WSSettings struct {
	Path string `json:"path"`
}

type TLSSettings struct {
	ServerName string `json:"serverName"`
}

// Synthesize maps one decoded endpoint to a config document. All failures
// wrap ErrUnsupported; no partial document is ever returned.
func Synthesize(ep subscribe.Endpoint, logger *applog.Logger) (*Document, error) {
	switch ep.Type {
	case subscribe.NodeVMess:
		return synthesizeVMess(ep.VMess)
	case subscribe.NodeVLess:
		return synthesizeUserHost("vless", ep.UserHost, logger)
	case subscribe.NodeTrojan:
		return synthesizeUserHost("trojan", ep.UserHost, logger)
	default:
		return nil, fmt.Errorf("node type %s: %w", ep.Type, ErrUnsupported)
	}
}

func synthesizeVMess(rec *subscribe.VMessRecord) (*Document, error) {
	if rec == nil {
		return nil, fmt.Errorf("vmess record missing: %w", ErrUnsupported)
	}
	if rec.Address == "" || rec.ID == "" || rec.Port <= 0 {
		return nil, fmt.Errorf("vmess record lacks address/id/port: %w", ErrUnsupported)
	}

	stream, err := buildStream(rec.Network, rec.Security, rec.Path, rec.Host, false)
	if err != nil {
		return nil, err
	}

	alterID := rec.AlterID
	return &Document{Outbounds: []Outbound{{
		Protocol: "vmess",
		Settings: Settings{Vnext: []VnextServer{{
			Address: rec.Address,
			Port:    rec.Port,
			Users:   []VnextUser{{ID: rec.ID, AlterID: &alterID}},
		}}},
		StreamSettings: *stream,
	}}}, nil
}

func synthesizeUserHost(protocol string, rec *subscribe.UserHostRecord, logger *applog.Logger) (*Document, error) {
	if rec == nil {
		return nil, fmt.Errorf("%s record missing: %w", protocol, ErrUnsupported)
	}
	if rec.SNI != "" && rec.Host != "" && rec.SNI != rec.Host {
		// host wins as serverName; do not reorder this precedence.
		logger.Warnf("%s entry: host=%q and sni=%q differ, using host", protocol, rec.Host, rec.SNI)
	}

	stream, err := buildStream(rec.Network, rec.Security, rec.Path, rec.Host, true)
	if err != nil {
		return nil, err
	}

	ob := Outbound{Protocol: protocol, StreamSettings: *stream}
	if protocol == "trojan" {
		ob.Settings = Settings{Servers: []TrojanServer{{
			Address:  rec.Address,
			Port:     rec.Port,
			Password: rec.UserID,
		}}}
	} else {
		ob.Settings = Settings{Vnext: []VnextServer{{
			Address: rec.Address,
			Port:    rec.Port,
			Users: []VnextUser{{
				ID:         rec.UserID,
				Encryption: rec.Encryption,
				Flow:       rec.Flow,
			}},
		}}}
	}
	return &Document{Outbounds: []Outbound{ob}}, nil
}

// buildStream holds the transport/security rules shared by every node type.
// xtls is only valid for vless/trojan.
func buildStream(network, security, path, serverName string, allowXTLS bool) (*StreamSettings, error) {
	st := &StreamSettings{}

	switch network {
	case "tcp":
		st.Network = "tcp"
	case "ws":
		st.Network = "ws"
		st.WSSettings = &WSSettings{Path: path}
	default:
		return nil, fmt.Errorf("network %q: %w", network, ErrUnsupported)
	}

	if security == "" {
		security = "none"
	}
	switch security {
	case "none":
		st.Security = "none"
	case "tls":
		st.Security = "tls"
		st.TLSSettings = &TLSSettings{ServerName: serverName}
	case "xtls":
		if !allowXTLS {
			return nil, fmt.Errorf("security %q: %w", security, ErrUnsupported)
		}
		st.Security = "xtls"
		st.XTLSSettings = &TLSSettings{ServerName: serverName}
	default:
		return nil, fmt.Errorf("security %q: %w", security, ErrUnsupported)
	}
	return st, nil
}

// WithServerNameAddress derives a copy of the document whose connection
// address is the TLS/XTLS serverName. The receiver is never modified. The
// second return is false when no non-empty serverName is present.
func (d *Document) WithServerNameAddress() (*Document, bool) {
	if d == nil || len(d.Outbounds) == 0 {
		return nil, false
	}
	name := d.Outbounds[0].StreamSettings.serverName()
	if name == "" {
		return nil, false
	}

	out := make([]Outbound, len(d.Outbounds))
	for i := range d.Outbounds {
		out[i] = d.Outbounds[i].clone()
		for j := range out[i].Settings.Vnext {
			out[i].Settings.Vnext[j].Address = name
		}
		for j := range out[i].Settings.Servers {
			out[i].Settings.Servers[j].Address = name
		}
	}
	return &Document{Outbounds: out}, true
}

func (s *StreamSettings) serverName() string {
	if s.TLSSettings != nil {
		return s.TLSSettings.ServerName
	}
	if s.XTLSSettings != nil {
		return s.XTLSSettings.ServerName
	}
	return ""
}

func (o Outbound) clone() Outbound {
	out := o
	if o.Settings.Vnext != nil {
		out.Settings.Vnext = make([]VnextServer, len(o.Settings.Vnext))
		for i, v := range o.Settings.Vnext {
			vc := v
			if v.Users != nil {
				vc.Users = make([]VnextUser, len(v.Users))
				for j, u := range v.Users {
					uc := u
					if u.AlterID != nil {
						aid := *u.AlterID
						uc.AlterID = &aid
					}
					vc.Users[j] = uc
				}
			}
			out.Settings.Vnext[i] = vc
		}
	}
	if o.Settings.Servers != nil {
		out.Settings.Servers = append([]TrojanServer(nil), o.Settings.Servers...)
	}
	if o.StreamSettings.WSSettings != nil {
		ws := *o.StreamSettings.WSSettings
		out.StreamSettings.WSSettings = &ws
	}
	if o.StreamSettings.TLSSettings != nil {
		tls := *o.StreamSettings.TLSSettings
		out.StreamSettings.TLSSettings = &tls
	}
	if o.StreamSettings.XTLSSettings != nil {
		xtls := *o.StreamSettings.XTLSSettings
		out.StreamSettings.XTLSSettings = &xtls
	}
	return out
}

// Encode renders the document with stable formatting so unchanged input
// produces byte-identical files across runs.
func (d *Document) Encode() ([]byte, error) {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config document: %w", err)
	}
	return append(b, '\n'), nil
}
