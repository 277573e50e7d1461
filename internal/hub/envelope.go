package hub

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const (
	// JoinedNotice is the data of the envelope sent to a connection right after it joins.
	JoinedNotice = "Have joined!!"

	// JoinedUsername is the placeholder username of the join notice.
	JoinedUsername = "You"
)

// Inbound is the payload a client sends: who is talking and what they said.
type Inbound struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Outbound is the payload delivered to each recipient of a broadcast.
type Outbound struct {
	IsMe     bool   `json:"isMe"`
	Username string `json:"username"`
	Data     string `json:"data"`
}

// DecodeInbound parses raw as an inbound envelope. Both fields must be present
// and be JSON strings, and raw must be valid UTF-8; anything else wraps
// ErrMalformedMessage.
func DecodeInbound(raw []byte) (Inbound, error) {
	if !utf8.Valid(raw) {
		return Inbound{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedMessage)
	}
	if !gjson.ValidBytes(raw) {
		return Inbound{}, fmt.Errorf("%w: invalid JSON", ErrMalformedMessage)
	}

	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Inbound{}, fmt.Errorf("%w: payload is not an object", ErrMalformedMessage)
	}

	username := doc.Get("username")
	if username.Type != gjson.String {
		return Inbound{}, fmt.Errorf("%w: username must be a string", ErrMalformedMessage)
	}

	message := doc.Get("message")
	if message.Type != gjson.String {
		return Inbound{}, fmt.Errorf("%w: message must be a string", ErrMalformedMessage)
	}

	return Inbound{Username: username.String(), Message: message.String()}, nil
}

// encodeOutbound renders the two variants of one broadcast: the sender's own
// copy and everybody else's copy.
func encodeOutbound(in Inbound) (mine, theirs []byte, err error) {
	mine, err = json.Marshal(Outbound{IsMe: true, Username: in.Username, Data: in.Message})
	if err != nil {
		return nil, nil, err
	}
	theirs, err = json.Marshal(Outbound{IsMe: false, Username: in.Username, Data: in.Message})
	if err != nil {
		return nil, nil, err
	}
	return mine, theirs, nil
}

// JoinNotice returns the encoded envelope a connection receives when it joins.
func JoinNotice() []byte {
	data, err := json.Marshal(Outbound{IsMe: true, Username: JoinedUsername, Data: JoinedNotice})
	if err != nil {
		// Outbound only holds strings and a bool.
		panic(err)
	}
	return data
}

// RelayMessage is a broadcast exchanged between hub instances. Origin names the
// instance that accepted the message so it can skip its own echo.
type RelayMessage struct {
	Origin   string `json:"origin"`
	Room     string `json:"room"`
	Username string `json:"username"`
	Data     string `json:"data"`
}
