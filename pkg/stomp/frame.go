// Package stomp implements the small STOMP subset the support alerts channel speaks:
// text frames of the form COMMAND\nheader:value\n...\n\n<body>\0.
package stomp

import (
	"strings"
)

// Commands used by the alerts channel.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
	CmdDisconnect  = "DISCONNECT"
	CmdSend        = "SEND"
)

// Well-known header names.
const (
	HeaderAcceptVersion = "accept-version"
	HeaderVersion       = "version"
	HeaderHeartBeat     = "heart-beat"
	HeaderHost          = "host"
	HeaderID            = "id"
	HeaderDestination   = "destination"
	HeaderSubscription  = "subscription"
	HeaderMessageID     = "message-id"
	HeaderContentType   = "content-type"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderMessage       = "message"
)

const (
	nul = '\x00'
	eol = '\n'
)

// Header is one key/value line of a frame.
type Header struct {
	Key   string
	Value string
}

// Headers keeps header lines in wire order.
type Headers []Header

// Get returns the first value for key. STOMP 1.2 gives the first occurrence precedence.
func (h Headers) Get(key string) (string, bool) {
	for _, kv := range h {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Value returns the first value for key or "".
func (h Headers) Value(key string) string {
	v, _ := h.Get(key)
	return v
}

// Frame is one decoded STOMP frame.
type Frame struct {
	Command string
	Headers Headers
	Body    string
}

// New builds a frame from alternating key, value pairs.
func New(command string, kv ...string) Frame {
	f := Frame{Command: command}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers = append(f.Headers, Header{Key: kv[i], Value: kv[i+1]})
	}
	return f
}

// Header returns the first value for key or "".
func (f Frame) Header(key string) string {
	return f.Headers.Value(key)
}

// Encode renders the frame in wire format, including the NUL terminator.
func (f Frame) Encode() string {
	var b strings.Builder
	b.Grow(len(f.Command) + len(f.Body) + 16*len(f.Headers) + 3)
	b.WriteString(f.Command)
	b.WriteByte(eol)
	raw := rawHeaders(f.Command)
	for _, h := range f.Headers {
		if raw {
			b.WriteString(h.Key)
			b.WriteByte(':')
			b.WriteString(h.Value)
		} else {
			b.WriteString(escape(h.Key))
			b.WriteByte(':')
			b.WriteString(escape(h.Value))
		}
		b.WriteByte(eol)
	}
	b.WriteByte(eol)
	b.WriteString(f.Body)
	b.WriteByte(nul)
	return b.String()
}

// Bytes is Encode as a byte slice, ready for a websocket text message.
func (f Frame) Bytes() []byte {
	return []byte(f.Encode())
}

// ConnectFrame opens a session. Heart-beating is disabled.
func ConnectFrame(host string) Frame {
	f := New(CmdConnect, HeaderAcceptVersion, "1.2,1.1,1.0", HeaderHeartBeat, "0,0")
	if host != "" {
		f.Headers = append(f.Headers, Header{Key: HeaderHost, Value: host})
	}
	return f
}

// SubscribeFrame subscribes to one destination.
func SubscribeFrame(id, destination string) Frame {
	return New(CmdSubscribe, HeaderID, id, HeaderDestination, destination)
}

// DisconnectFrame ends the session.
func DisconnectFrame() Frame {
	return New(CmdDisconnect)
}

// CONNECT and CONNECTED frames carry headers without escaping.
func rawHeaders(command string) bool {
	return command == CmdConnect || command == CmdConnected
}

var (
	escaper   = strings.NewReplacer("\\", `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	unescaper = strings.NewReplacer(`\\`, "\\", `\r`, "\r", `\n`, "\n", `\c`, ":")
)

func escape(s string) string {
	return escaper.Replace(s)
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return unescaper.Replace(s)
}
