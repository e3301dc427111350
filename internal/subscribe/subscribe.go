package subscribe

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/lkimju1/v2n-subsync/internal/applog"
)

// NodeType identifies the link scheme of one feed entry.
type NodeType int

const (
	NodeUnknown NodeType = iota
	NodeVMess
	NodeVLess
	NodeTrojan
)

func (t NodeType) String() string {
	switch t {
	case NodeVMess:
		return "vmess"
	case NodeVLess:
		return "vless"
	case NodeTrojan:
		return "trojan"
	default:
		return "unknown"
	}
}

// UnknownDesc is used when a line carries no usable description.
const UnknownDesc = "<unknown>"

// VMessRecord is the decoded payload of a vmess:// link.
type VMessRecord struct {
	Address  string
	Port     int
	ID       string
	AlterID  int
	Network  string
	Security string
	Path     string
	Host     string
	Desc     string
}

// UserHostRecord is the decoded form of a vless:// or trojan:// link:
// <uuid>@<host>:<port> plus query-derived stream options. UserID is the
// uuid for vless and the password for trojan.
type UserHostRecord struct {
	UserID  string
	Address string
	Port    int

	Network    string
	Security   string
	Host       string
	Path       string
	SNI        string
	Flow       string
	Encryption string
}

// Endpoint is one decoded feed entry. Exactly one of VMess/UserHost is set
// when Type is not NodeUnknown.
type Endpoint struct {
	Type     NodeType
	Desc     string
	VMess    *VMessRecord
	UserHost *UserHostRecord
}

// FeedFormatError means the outer payload is not a valid feed; it is fatal.
type FeedFormatError struct {
	Reason string
	Cause  error
}

func (e *FeedFormatError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return "feed format: " + e.Reason
	}
	return fmt.Sprintf("feed format: %s: %v", e.Reason, e.Cause)
}

func (e *FeedFormatError) Unwrap() error { return e.Cause }

// DecodeFeed base64-decodes the whole payload, splits it into lines and
// decodes each non-empty line. A malformed line does not abort the feed;
// the entry comes back as NodeUnknown. Order follows the feed.
func DecodeFeed(raw []byte, logger *applog.Logger) ([]Endpoint, error) {
	decoded, err := decodeBase64(stripWhitespace(string(raw)))
	if err != nil {
		return nil, &FeedFormatError{Reason: "payload is not valid base64", Cause: err}
	}
	if !utf8.Valid(decoded) {
		return nil, &FeedFormatError{Reason: "decoded payload is not valid utf-8"}
	}

	lines := strings.Split(strings.ReplaceAll(string(decoded), "\r\n", "\n"), "\n")
	out := make([]Endpoint, 0, len(lines))
	sample := 2
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if sample > 0 {
			logger.Debugf("sample feed line: %s", line)
			sample--
		}
		out = append(out, DecodeEntry(line, logger))
	}
	return out, nil
}

// DecodeEntry decodes one feed line. Failures are reported through the
// logger and yield a NodeUnknown endpoint.
func DecodeEntry(line string, logger *applog.Logger) Endpoint {
	scheme, rest, ok := strings.Cut(line, "://")
	if !ok {
		logger.Warnf("entry has no scheme: %s", snippet(line))
		return unknownEndpoint()
	}

	switch scheme {
	case "vmess":
		rec, err := decodeVMess(rest)
		if err != nil {
			logger.Warnf("vmess entry: %v", err)
			return unknownEndpoint()
		}
		return Endpoint{Type: NodeVMess, Desc: rec.Desc, VMess: rec}
	case "vless", "trojan":
		t := NodeVLess
		if scheme == "trojan" {
			t = NodeTrojan
		}
		rec, desc, err := decodeUserHost(rest, logger)
		if err != nil {
			logger.Warnf("%s entry: %v", scheme, err)
			return unknownEndpoint()
		}
		return Endpoint{Type: t, Desc: desc, UserHost: rec}
	default:
		logger.Warnf("unsupported scheme %q", scheme)
		return unknownEndpoint()
	}
}

func unknownEndpoint() Endpoint {
	return Endpoint{Type: NodeUnknown, Desc: UnknownDesc}
}

// vmessWire tolerates the loose typing seen in real feeds, where numeric
// fields arrive either quoted or bare.
type vmessWire struct {
	Address string  `json:"add"`
	Port    flexInt `json:"port"`
	ID      string  `json:"id"`
	AlterID flexInt `json:"aid"`
	Network string  `json:"net"`
	TLS     string  `json:"tls"`
	Path    string  `json:"path"`
	Host    string  `json:"host"`
	PS      string  `json:"ps"`
}

func decodeVMess(authority string) (*VMessRecord, error) {
	b, err := decodeBase64(authority)
	if err != nil {
		return nil, fmt.Errorf("authority is not valid base64: %w", err)
	}
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("decoded authority is not valid utf-8")
	}
	var w vmessWire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("parse node config: %w", err)
	}
	return &VMessRecord{
		Address:  w.Address,
		Port:     int(w.Port),
		ID:       w.ID,
		AlterID:  int(w.AlterID),
		Network:  w.Network,
		Security: w.TLS,
		Path:     w.Path,
		Host:     w.Host,
		Desc:     w.PS,
	}, nil
}

var userHostRe = regexp.MustCompile(`^([0-9a-fA-F-]+)@([^:]+):(\d+)$`)

func decodeUserHost(rest string, logger *applog.Logger) (*UserHostRecord, string, error) {
	withoutFrag, frag, hasFrag := strings.Cut(rest, "#")
	desc := UnknownDesc
	if hasFrag {
		decoded, err := url.PathUnescape(frag)
		if err != nil {
			return nil, "", fmt.Errorf("decode description: %w", err)
		}
		desc = decoded
	}

	authority, query, _ := strings.Cut(withoutFrag, "?")
	m := userHostRe.FindStringSubmatch(authority)
	if m == nil {
		return nil, "", fmt.Errorf("authority %q does not match uuid@host:port", snippet(authority))
	}
	port, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, "", fmt.Errorf("port %q: %w", m[3], err)
	}

	rec := &UserHostRecord{UserID: m[1], Address: m[2], Port: port}
	if err := applyQuery(rec, query, logger); err != nil {
		return nil, "", err
	}
	return rec, desc, nil
}

func applyQuery(rec *UserHostRecord, query string, logger *applog.Logger) error {
	if query == "" {
		return nil
	}
	seen := make(map[string]struct{})
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		kRaw, vRaw, _ := strings.Cut(part, "=")
		k, err := url.QueryUnescape(kRaw)
		if err != nil {
			return fmt.Errorf("decode query key %q: %w", kRaw, err)
		}
		v, err := url.QueryUnescape(vRaw)
		if err != nil {
			return fmt.Errorf("decode query value %q: %w", vRaw, err)
		}
		if _, dup := seen[k]; dup {
			// First value wins, matching the original client behavior.
			logger.Warnf("repeated query key %q, keeping first value", k)
			continue
		}
		seen[k] = struct{}{}
		switch k {
		case "type":
			rec.Network = v
		case "security":
			rec.Security = v
		case "host":
			rec.Host = v
		case "path":
			rec.Path = v
		case "sni":
			rec.SNI = v
		case "flow":
			rec.Flow = v
		case "encryption":
			rec.Encryption = v
		default:
			logger.Debugf("ignoring query key %q", k)
		}
	}
	return nil
}

// flexInt decodes a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %q", s)
	}
	*f = flexInt(n)
	return nil
}

// Feeds carry multiple base64 alphabets in the wild; try them in order.
var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.RawURLEncoding,
}

func decodeBase64(s string) ([]byte, error) {
	var lastErr error
	for _, enc := range base64Encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Feeds are often wrapped at 76 columns; drop whitespace before decoding.
func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func snippet(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
