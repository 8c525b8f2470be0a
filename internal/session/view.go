package session

import "github.com/vovakirdan/wirechat-client/internal/core"

// View is the rendering surface the controller pushes state into. The
// controller never reads it back. All calls come from the controller's loop
// goroutine.
type View interface {
	SetChannels(channels []core.Channel)
	AddChannel(ch core.Channel)
	RemoveChannel(id core.ChannelID)
	// SetActive marks or unmarks the list entry for id.
	SetActive(id core.ChannelID, active bool)
	ReplaceMessages(msgs []core.Message)
	// AppendMessage adds one message and scrolls to it.
	AppendMessage(msg core.Message)
	// ShowMessageArea shows or hides the message list and composer.
	ShowMessageArea(visible bool)
	ClearComposer()
	// Notify surfaces an error to the user.
	Notify(err error)
}
