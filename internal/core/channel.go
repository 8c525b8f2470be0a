package core

// ChannelID is the opaque, server-assigned channel identifier.
// The zero value means "no channel".
type ChannelID string

// Channel is a chat room the user has joined.
type Channel struct {
	ID   ChannelID
	Name string
}

// String implements fmt.Stringer.
func (id ChannelID) String() string {
	return string(id)
}
