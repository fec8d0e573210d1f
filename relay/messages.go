package relay

import (
	"errors"
	"fmt"

	tmjson "github.com/tendermint/tendermint/libs/json"

	"aclrelay/types"
)

// Message is a relay protocol message. Framing and per-link ordering come
// from the p2p connection; the payload is a tmjson-encoded tagged union.
type Message interface {
	ValidateBasic() error
}

func init() {
	tmjson.RegisterType(&HandshakeMessage{}, "aclrelay/Handshake")
	tmjson.RegisterType(&WatermarkMessage{}, "aclrelay/Watermark")
	tmjson.RegisterType(&MutationMessage{}, "aclrelay/MutationPush")
	tmjson.RegisterType(&AckMessage{}, "aclrelay/Ack")
	tmjson.RegisterType(&PingMessage{}, "aclrelay/Ping")
}

// HandshakeMessage opens the protocol on a fresh link: it announces the
// sender's node id and its current applied watermark, from which the
// receiver computes the backlog to send.
type HandshakeMessage struct {
	NodeID    types.NodeID    `json:"node_id"`
	Watermark types.Watermark `json:"watermark"`
}

func (m *HandshakeMessage) ValidateBasic() error {
	if m.NodeID == "" {
		return errors.New("handshake without node id")
	}
	return nil
}

func (m *HandshakeMessage) String() string {
	return fmt.Sprintf("[Handshake %s %s]", m.NodeID, m.Watermark)
}

// WatermarkMessage is a cumulative acknowledgment: everything covered by the
// watermark has been applied by the sender. Also sent in response to pings.
type WatermarkMessage struct {
	Watermark types.Watermark `json:"watermark"`
}

func (m *WatermarkMessage) ValidateBasic() error { return nil }

func (m *WatermarkMessage) String() string {
	return fmt.Sprintf("[Watermark %s]", m.Watermark)
}

// MutationMessage pushes one mutation record.
type MutationMessage struct {
	Record types.MutationRecord `json:"record"`
}

func (m *MutationMessage) ValidateBasic() error {
	return m.Record.ValidateBasic()
}

func (m *MutationMessage) String() string {
	return fmt.Sprintf("[MutationPush %v]", m.Record)
}

// AckMessage acknowledges receipt of a single pushed record. Receipt, not
// application: Stale and Superseded outcomes ack too, the record is covered
// either way.
type AckMessage struct {
	Origin  types.NodeID `json:"origin"`
	Counter int64        `json:"counter"`
}

func (m *AckMessage) ValidateBasic() error {
	if m.Origin == "" || m.Counter <= 0 {
		return fmt.Errorf("malformed ack %s/%d", m.Origin, m.Counter)
	}
	return nil
}

func (m *AckMessage) String() string {
	return fmt.Sprintf("[Ack %s:%d]", m.Origin, m.Counter)
}

// PingMessage probes an idle link. The peer answers with a Watermark.
type PingMessage struct{}

func (m *PingMessage) ValidateBasic() error { return nil }

func (m *PingMessage) String() string { return "[Ping]" }

func encodeMsg(msg Message) ([]byte, error) {
	return tmjson.Marshal(msg)
}

func decodeMsg(bz []byte) (Message, error) {
	var msg Message
	if err := tmjson.Unmarshal(bz, &msg); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errors.New("empty relay message")
	}
	return msg, msg.ValidateBasic()
}

// EncodePing returns an encoded ping for the liveness layer.
func EncodePing() []byte {
	return mustEncode(&PingMessage{})
}

// mustEncode is for messages built from local state; encoding those cannot
// fail at runtime.
func mustEncode(msg Message) []byte {
	bz, err := encodeMsg(msg)
	if err != nil {
		panic(fmt.Sprintf("failed to encode %v: %v", msg, err))
	}
	return bz
}
