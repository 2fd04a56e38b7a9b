// Package wire implements the message shapes the Topic Tailer produces and
// consumes on the Control-Tower-to-client boundary. Transport framing below
// the header — how bytes arrive off a socket — is out of scope; this
// package only defines the logical message and its byte encoding, hand
// rolled rather than reached for a generic serialization library, since
// the format is tiny and fixed.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// MsgType identifies the on-wire message kind.
type MsgType uint8

const (
	MsgDeliver  MsgType = 1
	MsgGap      MsgType = 2
	MsgMetadata MsgType = 3
)

// GapType classifies a Gap message.
type GapType uint8

const (
	GapBenign    GapType = 0
	GapRetention GapType = 1
	GapDataLoss  GapType = 2
)

// Retention maps the two low bits of Deliver.Flags.
type Retention uint8

const (
	RetentionOneHour Retention = 0
	RetentionOneDay  Retention = 1
	RetentionOneWeek Retention = 2
)

// MetaType distinguishes a subscription Metadata request from a response.
type MetaType uint8

const (
	MetaRequest  MetaType = 0
	MetaResponse MetaType = 1
)

// SubType is the per-topic action carried inside a Metadata message.
type SubType uint8

const (
	SubSubscribe   SubType = 0
	SubUnsubscribe SubType = 1
)

// Header is shared by every message type.
type Header struct {
	Version  uint8
	Type     MsgType
	Tenant   uint16
	OriginIP string
	Port     uint16
}

// Deliver carries one record to one subscriber.
type Deliver struct {
	Header
	SeqPrev   uint64
	Seq       uint64
	Topic     string
	Flags     uint16
	Namespace uint16
	MsgID     [16]byte
	Payload   []byte
}

// Retention extracts the low 2 bits of Flags.
func (d *Deliver) Retention() Retention { return Retention(d.Flags & 0x3) }

// SetRetention sets the low 2 bits of Flags, preserving the rest.
func (d *Deliver) SetRetention(r Retention) { d.Flags = (d.Flags &^ 0x3) | uint16(r) }

// Gap announces a range of seqnos with nothing deliverable for a topic.
type Gap struct {
	Header
	Type GapType
	From uint64
	To   uint64
}

// MetaTopic is one entry inside a Metadata message.
type MetaTopic struct {
	Seq       uint64
	Topic     string
	Namespace uint16
	SubType   SubType
}

// Metadata carries a batch of subscribe/unsubscribe requests (or their
// responses) between Copilot and Control Tower.
type Metadata struct {
	Header
	Type   MetaType
	Topics []MetaTopic
}

var (
	errTruncated = errors.New("wire: truncated message")
	errVarint    = errors.New("wire: malformed varint")
)

// putUvarint appends v to buf using unsigned LEB128 encoding, shared by
// every length-prefixed string and seqno field in this package.
func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, errVarint
	}
	return v, nil
}

func putLPString(buf *bytes.Buffer, s string) {
	putUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readLPString(r *bytes.Reader) (string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", errTruncated
	}
	return string(b), nil
}

func putHeaderPrefix(buf *bytes.Buffer, h Header, t MsgType) {
	buf.WriteByte(byte(t))
	var tenant [2]byte
	binary.LittleEndian.PutUint16(tenant[:], h.Tenant)
	buf.Write(tenant[:])
	putLPString(buf, h.OriginIP)
	putUvarint(buf, uint64(h.Port))
}

func readHeaderPrefix(r *bytes.Reader) (Header, MsgType, error) {
	var h Header
	typ, err := r.ReadByte()
	if err != nil {
		return h, 0, errTruncated
	}
	var tenant [2]byte
	if _, err := r.Read(tenant[:]); err != nil {
		return h, 0, errTruncated
	}
	origin, err := readLPString(r)
	if err != nil {
		return h, 0, err
	}
	port, err := readUvarint(r)
	if err != nil {
		return h, 0, err
	}
	h.Tenant = binary.LittleEndian.Uint16(tenant[:])
	h.OriginIP = origin
	h.Port = uint16(port)
	return h, MsgType(typ), nil
}

// wrap prefixes body with the shared header every message carries:
// {version, msg_size:u32_le, type, tenant, origin}.
func wrap(h Header, t MsgType, body []byte) []byte {
	var head bytes.Buffer
	putHeaderPrefix(&head, h, t)
	head.Write(body)
	full := head.Bytes()

	var out bytes.Buffer
	out.WriteByte(h.Version)
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(full)))
	out.Write(size[:])
	out.Write(full)
	return out.Bytes()
}

// Encode serializes a Deliver message.
func (d *Deliver) Encode() []byte {
	var body bytes.Buffer
	putUvarint(&body, d.SeqPrev)
	putUvarint(&body, d.Seq)
	var tenant [2]byte
	binary.LittleEndian.PutUint16(tenant[:], d.Tenant)
	body.Write(tenant[:])
	putLPString(&body, d.Topic)
	var flags [2]byte
	binary.LittleEndian.PutUint16(flags[:], d.Flags)
	body.Write(flags[:])
	var ns [2]byte
	binary.LittleEndian.PutUint16(ns[:], d.Namespace)
	body.Write(ns[:])
	body.Write(d.MsgID[:])
	body.Write(d.Payload)
	return wrap(d.Header, MsgDeliver, body.Bytes())
}

// Encode serializes a Gap message.
func (g *Gap) Encode() []byte {
	var body bytes.Buffer
	body.WriteByte(byte(g.Type))
	putUvarint(&body, g.From)
	putUvarint(&body, g.To)
	return wrap(g.Header, MsgGap, body.Bytes())
}

// Encode serializes a Metadata message.
func (m *Metadata) Encode() []byte {
	var body bytes.Buffer
	body.WriteByte(byte(m.Type))
	putUvarint(&body, uint64(len(m.Topics)))
	for _, t := range m.Topics {
		putUvarint(&body, t.Seq)
		putLPString(&body, t.Topic)
		var ns [2]byte
		binary.LittleEndian.PutUint16(ns[:], t.Namespace)
		body.Write(ns[:])
		body.WriteByte(byte(t.SubType))
	}
	return wrap(m.Header, MsgMetadata, body.Bytes())
}

// Decode parses the outer header+msg_size+type+tenant+origin prefix and
// dispatches to the matching message type, returning one of *Deliver,
// *Gap, or *Metadata.
func Decode(raw []byte) (interface{}, error) {
	if len(raw) < 5 {
		return nil, errTruncated
	}
	version := raw[0]
	msgSize := binary.LittleEndian.Uint32(raw[1:5])
	rest := raw[5:]
	if uint32(len(rest)) < msgSize {
		return nil, fmt.Errorf("wire: declared size %d exceeds buffer %d", msgSize, len(rest))
	}
	r := bytes.NewReader(rest[:msgSize])
	h, typ, err := readHeaderPrefix(r)
	if err != nil {
		return nil, err
	}
	h.Version = version

	switch typ {
	case MsgDeliver:
		d := &Deliver{Header: h}
		if d.SeqPrev, err = readUvarint(r); err != nil {
			return nil, err
		}
		if d.Seq, err = readUvarint(r); err != nil {
			return nil, err
		}
		var tenant [2]byte
		if _, err := r.Read(tenant[:]); err != nil {
			return nil, errTruncated
		}
		d.Tenant = binary.LittleEndian.Uint16(tenant[:])
		if d.Topic, err = readLPString(r); err != nil {
			return nil, err
		}
		var flags [2]byte
		if _, err := r.Read(flags[:]); err != nil {
			return nil, errTruncated
		}
		d.Flags = binary.LittleEndian.Uint16(flags[:])
		var ns [2]byte
		if _, err := r.Read(ns[:]); err != nil {
			return nil, errTruncated
		}
		d.Namespace = binary.LittleEndian.Uint16(ns[:])
		if _, err := r.Read(d.MsgID[:]); err != nil {
			return nil, errTruncated
		}
		payload := make([]byte, r.Len())
		if _, err := r.Read(payload); err != nil && len(payload) > 0 {
			return nil, errTruncated
		}
		d.Payload = payload
		return d, nil

	case MsgGap:
		g := &Gap{Header: h}
		gt, err := r.ReadByte()
		if err != nil {
			return nil, errTruncated
		}
		g.Type = GapType(gt)
		if g.From, err = readUvarint(r); err != nil {
			return nil, err
		}
		if g.To, err = readUvarint(r); err != nil {
			return nil, err
		}
		return g, nil

	case MsgMetadata:
		m := &Metadata{Header: h}
		mt, err := r.ReadByte()
		if err != nil {
			return nil, errTruncated
		}
		m.Type = MetaType(mt)
		n, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		m.Topics = make([]MetaTopic, 0, n)
		for i := uint64(0); i < n; i++ {
			var mtp MetaTopic
			if mtp.Seq, err = readUvarint(r); err != nil {
				return nil, err
			}
			if mtp.Topic, err = readLPString(r); err != nil {
				return nil, err
			}
			var ns [2]byte
			if _, err := r.Read(ns[:]); err != nil {
				return nil, errTruncated
			}
			mtp.Namespace = binary.LittleEndian.Uint16(ns[:])
			st, err := r.ReadByte()
			if err != nil {
				return nil, errTruncated
			}
			mtp.SubType = SubType(st)
			m.Topics = append(m.Topics, mtp)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("wire: unknown message type %d", typ)
	}
}
