// Package directory holds the ordered list of joined channels and the current
// selection. It is the single source of truth for what the user has joined;
// the rendered channel list is only a projection of it.
//
// A Directory is not safe for concurrent use. The session controller owns it
// and touches it only from its event loop.
package directory

import "github.com/vovakirdan/wirechat-client/internal/core"

// Directory is an ordered set of channels plus at most one selected id.
//
// Invariants: ids are unique; a non-empty selection always names a present channel.
type Directory struct {
	channels []core.Channel
	index    map[core.ChannelID]int
	selected core.ChannelID
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{index: make(map[core.ChannelID]int)}
}

// Add appends ch unless its id is already present. Returns true if newly added.
// Channels without an id are never added.
func (d *Directory) Add(ch core.Channel) bool {
	if ch.ID == "" {
		return false
	}
	if _, exists := d.index[ch.ID]; exists {
		return false
	}
	d.index[ch.ID] = len(d.channels)
	d.channels = append(d.channels, ch)
	return true
}

// Remove deletes the channel with id, clearing the selection if it pointed there.
// Returns true if a channel was removed; an unknown id is a no-op.
func (d *Directory) Remove(id core.ChannelID) bool {
	pos, exists := d.index[id]
	if !exists {
		return false
	}
	d.channels = append(d.channels[:pos], d.channels[pos+1:]...)
	delete(d.index, id)
	for i := pos; i < len(d.channels); i++ {
		d.index[d.channels[i].ID] = i
	}
	if d.selected == id {
		d.selected = ""
	}
	return true
}

// Select makes id the selected channel and returns the previous selection
// ("" if none). Unknown ids fail with core.ErrNotFound and leave the
// selection unchanged.
func (d *Directory) Select(id core.ChannelID) (core.ChannelID, error) {
	if _, exists := d.index[id]; !exists {
		return "", core.NotFound(id)
	}
	prev := d.selected
	d.selected = id
	return prev, nil
}

// Selected returns the selected channel id, if any.
func (d *Directory) Selected() (core.ChannelID, bool) {
	return d.selected, d.selected != ""
}

// IsSelected reports whether id is the current selection.
func (d *Directory) IsSelected(id core.ChannelID) bool {
	return id != "" && d.selected == id
}

// FirstChannelID returns the id of the first channel, used as the fallback
// selection after leaving the selected one.
func (d *Directory) FirstChannelID() (core.ChannelID, bool) {
	if len(d.channels) == 0 {
		return "", false
	}
	return d.channels[0].ID, true
}

// Get returns the channel with id.
func (d *Directory) Get(id core.ChannelID) (core.Channel, bool) {
	pos, exists := d.index[id]
	if !exists {
		return core.Channel{}, false
	}
	return d.channels[pos], true
}

// Contains reports whether id is present.
func (d *Directory) Contains(id core.ChannelID) bool {
	_, exists := d.index[id]
	return exists
}

// Len returns the number of channels.
func (d *Directory) Len() int {
	return len(d.channels)
}

// Channels returns a copy of the channels in join order.
func (d *Directory) Channels() []core.Channel {
	out := make([]core.Channel, len(d.channels))
	copy(out, d.channels)
	return out
}
