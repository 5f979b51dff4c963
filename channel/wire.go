// Package channel implements the application protocol spoken over joined
// message channels: a fixed header, a JSON envelope with a versioned
// format, and a manager that tracks the peers present in a channel.
package channel

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Every message starts with this marker so foreign traffic on a channel
// can be rejected cheaply.
var messageHeader = []byte("__OVUM__")

// ProtocolVersion is the envelope format version this package speaks.
// Messages with any other version are ignored.
const ProtocolVersion = "3.0"

// MessageType classifies channel envelopes.
type MessageType string

const (
	// TypeJoin announces a new participant. Peers answer with TypeHello.
	TypeJoin MessageType = "JOIN"
	// TypeHello announces an existing participant to a joiner.
	TypeHello MessageType = "HELLO"
	// TypeGetUsers asks every participant to re-announce itself.
	TypeGetUsers MessageType = "GET_USERS"
	// TypeLeft announces a clean departure.
	TypeLeft MessageType = "LEFT"
	// TypeMessage carries application content.
	TypeMessage MessageType = "MESSAGE"
	// TypeMergeStarted announces that a participant began merging the
	// session; everyone else should stop editing.
	TypeMergeStarted MessageType = "MERGE_STARTED"
	// TypeMergeFinished announces that the merge completed.
	TypeMergeFinished MessageType = "MERGE_FINISHED"
)

// envelope is the JSON body following the header.
type envelope struct {
	Version      string         `json:"version"`
	MessageType  MessageType    `json:"message_type"`
	FromUserName string         `json:"from_user_name"`
	Content      map[string]any `json:"content,omitempty"`
	App          string         `json:"app,omitempty"`
}

// encode serializes an envelope with the message header prepended.
func encode(msgType MessageType, userName, app string, content map[string]any) ([]byte, error) {
	body, err := json.Marshal(envelope{
		Version:      ProtocolVersion,
		MessageType:  msgType,
		FromUserName: userName,
		Content:      content,
		App:          app,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msgType, err)
	}

	return append(append([]byte{}, messageHeader...), body...), nil
}

// decode parses a raw channel payload. Payloads without the header, with a
// version other than ProtocolVersion, or without a sender or type are
// rejected.
func decode(data []byte) (envelope, error) {
	if !bytes.HasPrefix(data, messageHeader) {
		return envelope{}, fmt.Errorf("missing message header")
	}

	var env envelope
	if err := json.Unmarshal(data[len(messageHeader):], &env); err != nil {
		return envelope{}, fmt.Errorf("decode message body: %w", err)
	}

	if err := checkVersion(env.Version); err != nil {
		return envelope{}, err
	}
	if env.FromUserName == "" {
		return envelope{}, fmt.Errorf("message without a from_user_name")
	}
	if env.MessageType == "" {
		return envelope{}, fmt.Errorf("message without a message_type")
	}

	return env, nil
}

// checkVersion requires an exact version match. The format is not
// negotiated, so a peer on any other revision is ignored.
func checkVersion(version string) error {
	theirs, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid message version %q: %w", version, err)
	}
	if !theirs.Equal(semver.MustParse(ProtocolVersion)) {
		return fmt.Errorf("incompatible message version %q, this client speaks %q", version, ProtocolVersion)
	}

	return nil
}
