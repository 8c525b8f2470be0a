// Package history loads the message backlog of a channel.
package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
	wlog "github.com/vovakirdan/wirechat-client/internal/log"
)

// Source fetches raw history from the server.
type Source interface {
	History(ctx context.Context, id core.ChannelID) ([]core.Message, error)
}

// Loader turns a Source into a point-in-time, timestamp-ordered snapshot.
type Loader struct {
	src Source
	log *zerolog.Logger
}

// NewLoader returns a Loader reading from src.
func NewLoader(src Source, logger *zerolog.Logger) *Loader {
	return &Loader{src: src, log: wlog.OrNop(logger)}
}

// Load returns the messages of channel id ordered by timestamp. Messages
// sharing a timestamp keep the order the server sent them in. Errors from
// the source are returned wrapped; the result is nil on failure.
func (l *Loader) Load(ctx context.Context, id core.ChannelID) ([]core.Message, error) {
	msgs, err := l.src.History(ctx, id)
	if err != nil {
		l.log.Warn().Err(err).Str("channel_id", id.String()).Msg("history load failed")
		return nil, fmt.Errorf("load history %s: %w", id, err)
	}

	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})

	l.log.Debug().Str("channel_id", id.String()).Int("count", len(out)).Msg("history loaded")
	return out, nil
}
