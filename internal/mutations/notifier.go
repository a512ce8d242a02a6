package mutations

import (
	"context"

	"github.com/MarcoPoloResearchLab/habituals/internal/achievements"
)

// Notifier receives achievements earned by a confirmed completion.
type Notifier interface {
	Notify(ctx context.Context, achievement achievements.Achievement)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, achievement achievements.Achievement)

func (f NotifierFunc) Notify(ctx context.Context, achievement achievements.Achievement) {
	f(ctx, achievement)
}

// ChannelNotifier forwards achievements to ch, giving up when ctx ends.
func ChannelNotifier(ch chan<- achievements.Achievement) Notifier {
	return NotifierFunc(func(ctx context.Context, achievement achievements.Achievement) {
		select {
		case ch <- achievement:
		case <-ctx.Done():
		}
	})
}

// DiscardNotifier drops everything.
var DiscardNotifier Notifier = NotifierFunc(func(context.Context, achievements.Achievement) {})
