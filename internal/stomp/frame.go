package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedFrame = errors.New("malformed stomp frame")

type Kind int

const (
	KindOther Kind = iota
	KindConnected
	KindMessage
	KindError
	KindReceipt
	KindHeartbeat
)

func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "CONNECTED"
	case KindMessage:
		return "MESSAGE"
	case KindError:
		return "ERROR"
	case KindReceipt:
		return "RECEIPT"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "other"
	}
}

type Frame struct {
	Command string
	Headers map[string]string
	Body    string
}

func (f Frame) Kind() Kind {
	switch f.Command {
	case "CONNECTED":
		return KindConnected
	case "MESSAGE":
		return KindMessage
	case "ERROR":
		return KindError
	case "RECEIPT":
		return KindReceipt
	case "":
		return KindHeartbeat
	default:
		return KindOther
	}
}

func (f Frame) Header(name string) string { return f.Headers[name] }

// Decode parses a single frame. A payload made only of EOLs is a heart-beat.
func Decode(raw []byte) (Frame, error) {
	data := bytes.TrimLeft(raw, "\r\n")
	if len(data) == 0 {
		return Frame{}, nil
	}

	head, body, ok := cutHead(data)
	if !ok {
		return Frame{}, fmt.Errorf("%w: no blank line after headers", ErrMalformedFrame)
	}

	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	f := Frame{Command: lines[0], Headers: make(map[string]string, len(lines)-1)}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return Frame{}, fmt.Errorf("%w: header line %q", ErrMalformedFrame, line)
		}
		// repeated headers: first one wins
		k = unescape(k)
		if _, seen := f.Headers[k]; !seen {
			f.Headers[k] = unescape(v)
		}
	}

	if cl, ok := f.Headers["content-length"]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n > len(body) {
			return Frame{}, fmt.Errorf("%w: content-length %q", ErrMalformedFrame, cl)
		}
		f.Body = string(body[:n])
		return f, nil
	}

	if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}
	f.Body = string(body)
	return f, nil
}

func cutHead(data []byte) (head, body []byte, ok bool) {
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		j := bytes.Index(data, []byte("\r\n\r\n"))
		if j >= 0 && j < i {
			return data[:j], data[j+4:], true
		}
		return data[:i], data[i+2:], true
	}
	if j := bytes.Index(data, []byte("\r\n\r\n")); j >= 0 {
		return data[:j], data[j+4:], true
	}
	// a bare command with a NUL and no headers, e.g. "DISCONNECT\x00"
	if i := bytes.IndexByte(data, 0); i >= 0 && bytes.IndexByte(data[:i], '\n') < 0 {
		return data[:i], nil, true
	}
	return nil, nil, false
}

var unescaper = strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\c`, ":", `\\`, `\`)

var escaper = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return unescaper.Replace(s)
}

// Connect is the handshake advertising every protocol version the broker may pick.
func Connect() []byte {
	return []byte("CONNECT\naccept-version:1.0,1.1,2.0\n\n\x00\n")
}

// Subscribe builds a SUBSCRIBE frame. ack "auto" means the broker does
// not wait for an explicit ACK.
func Subscribe(destination, id, ack string) []byte {
	var b strings.Builder
	b.WriteString("SUBSCRIBE\n")
	b.WriteString("id:" + escaper.Replace(id) + "\n")
	b.WriteString("destination:" + escaper.Replace(destination) + "\n")
	b.WriteString("ack:" + ack + "\n")
	b.WriteString("\n\x00\n")
	return []byte(b.String())
}
