// ABOUTME: Command types exchanged between coordinators and requesters
// ABOUTME: Each command is a keyword followed by a fixed list of string fields

package wire

import "strconv"

// Keywords as they appear on the first line of every message.
const (
	KeywordBroadcast   = "Broadcast"
	KeywordConnect     = "Connect"
	KeywordDisconnect  = "Disconnect"
	KeywordRequest     = "Request"
	KeywordUnsubscribe = "Unsubscribe"
)

// Well-known ports of the three protocol endpoints.
const (
	DefaultDiscoveryPort = 25555 // coordinator: Broadcast and Unsubscribe
	DefaultPairingPort   = 25556 // requester: Connect and Disconnect
	DefaultSessionPort   = 25557 // coordinator: Request
)

// Command is one protocol message. The set of implementations is closed.
type Command interface {
	// Keyword returns the first line of the encoded message.
	Keyword() string

	// fields returns the ordered field lines that follow the keyword.
	fields() []string
}

// Broadcast is sent by a requester to the coordinator's discovery address
// to advertise that it is waiting to be attached.
type Broadcast struct {
	Identity string
}

// Connect is sent by a coordinator to a requester's pairing address to
// attach it to a resource.
type Connect struct {
	Identity   string
	ResourceID string
}

// Disconnect is sent by a coordinator to a requester's pairing address to
// detach it.
type Disconnect struct {
	Confirm bool
}

// Request is sent by an attached requester to the coordinator's session
// address to ask for help with a resource.
type Request struct {
	ResourceID string
}

// Unsubscribe is sent by an attached requester to the coordinator's
// discovery address to end the pairing.
type Unsubscribe struct {
	Identity string
}

func (Broadcast) Keyword() string   { return KeywordBroadcast }
func (Connect) Keyword() string     { return KeywordConnect }
func (Disconnect) Keyword() string  { return KeywordDisconnect }
func (Request) Keyword() string     { return KeywordRequest }
func (Unsubscribe) Keyword() string { return KeywordUnsubscribe }

func (c Broadcast) fields() []string   { return []string{c.Identity} }
func (c Connect) fields() []string     { return []string{c.Identity, c.ResourceID} }
func (c Request) fields() []string     { return []string{c.ResourceID} }
func (c Unsubscribe) fields() []string { return []string{c.Identity} }

// Disconnect encodes its flag the way the existing peers expect it.
func (c Disconnect) fields() []string {
	if c.Confirm {
		return []string{"True"}
	}
	return []string{"False"}
}

// fieldCount is the number of lines that follow each keyword.
var fieldCount = map[string]int{
	KeywordBroadcast:   1,
	KeywordConnect:     2,
	KeywordDisconnect:  1,
	KeywordRequest:     1,
	KeywordUnsubscribe: 1,
}

// build assembles a command from its keyword and already-read fields.
func build(keyword string, f []string) (Command, error) {
	switch keyword {
	case KeywordBroadcast:
		return Broadcast{Identity: f[0]}, nil
	case KeywordConnect:
		return Connect{Identity: f[0], ResourceID: f[1]}, nil
	case KeywordDisconnect:
		confirm, err := strconv.ParseBool(f[0])
		if err != nil {
			return nil, &DecodeError{Keyword: keyword, Err: ErrMalformedField}
		}
		return Disconnect{Confirm: confirm}, nil
	case KeywordRequest:
		return Request{ResourceID: f[0]}, nil
	case KeywordUnsubscribe:
		return Unsubscribe{Identity: f[0]}, nil
	}
	return nil, &DecodeError{Keyword: keyword, Err: ErrUnknownCommand}
}
