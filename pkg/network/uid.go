package network

import "github.com/rs/xid"

// Uid identifies clients and sockets across the assist subsystem. Values
// are globally unique and sortable by creation time.
type Uid string

const EmptyUid Uid = ""

func NewUid() Uid { return Uid(xid.New().String()) }

// ValidUid reports whether u parses back as a generated id.
func ValidUid(u Uid) bool {
	_, err := xid.FromString(string(u))
	return err == nil
}

func (u Uid) String() string { return string(u) }

// Short is the log-friendly form, first and last three characters.
func (u Uid) Short() string {
	return string(u)[:3] + "." + string(u)[len(u)-3:]
}
