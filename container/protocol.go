package container

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// maxMessageSize bounds a single control message, larger datagrams are truncated
const maxMessageSize = 16 << 10

// Kind is the type of a control message
type Kind uint8

// Message kinds. Zero is reserved for messages that could not be understood.
const (
	KindUnknown Kind = iota
	KindSetup
	KindOk
	KindInfo
	KindMountPoint
	KindTerminate
	KindError
)

var kindNames = [...]string{
	KindUnknown:    "unknown",
	KindSetup:      "setup",
	KindOk:         "ok",
	KindInfo:       "info",
	KindMountPoint: "mountpoint",
	KindTerminate:  "terminate",
	KindError:      "error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Message is a single control message exchanged between creator and manager
type Message struct {
	Kind       Kind        `cbor:"1,keyasint"`
	Setup      *SetupParam `cbor:"2,keyasint,omitempty"`
	MountPoint string      `cbor:"3,keyasint,omitempty"`
	Error      *ErrorReply `cbor:"4,keyasint,omitempty"`

	// Raw holds the received bytes of an Unknown message
	Raw []byte `cbor:"-"`
}

// SetupParam is the payload of the setup message
type SetupParam struct {
	Image       string `cbor:"1,keyasint"`
	RAMDiskSize uint64 `cbor:"2,keyasint,omitempty"`
	StateDir    string `cbor:"3,keyasint,omitempty"`
	CacheDir    string `cbor:"4,keyasint,omitempty"`
	Mirror      string `cbor:"5,keyasint,omitempty"`
	HostName    string `cbor:"6,keyasint,omitempty"`

	// Binds are src:dst[:ro] mounts applied under the mount point after extraction
	Binds []string `cbor:"7,keyasint,omitempty"`
}

// ErrorReply is the payload of the error message
type ErrorReply struct {
	Reason  string `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint,omitempty"`
}

func (e *ErrorReply) Error() string {
	if e.Message == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Message
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}).DecMode(); err != nil {
		panic(err)
	}
}

// encodeMessage encodes m, an Unknown message is sent as its raw bytes
func encodeMessage(m Message) ([]byte, error) {
	if m.Kind == KindUnknown {
		return m.Raw, nil
	}
	b, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("container: failed to encode %v: %w", m.Kind, err)
	}
	if len(b) > maxMessageSize {
		return nil, fmt.Errorf("container: %v message too large (%d bytes)", m.Kind, len(b))
	}
	return b, nil
}

// decodeMessage never fails: anything that does not decode into a known kind is
// classified as Unknown and keeps a copy of the bytes
func decodeMessage(b []byte) Message {
	var m Message
	if err := decMode.Unmarshal(b, &m); err != nil || m.Kind == KindUnknown || int(m.Kind) >= len(kindNames) {
		return Message{Kind: KindUnknown, Raw: append([]byte(nil), b...)}
	}
	return m
}
