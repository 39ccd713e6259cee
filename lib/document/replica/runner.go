package replica

import (
	"context"

	"github.com/ValentinKolb/dDoc/lib/document"
)

// RunFollower feeds the entries of stream to the follower until ctx is done,
// the stream is closed or applying fails. It starts after the last applied entry.
func RunFollower(ctx context.Context, f *FollowerState, stream document.IStream) error {
	for {
		next := f.LastAppliedIndex() + 1

		it, err := stream.WaitForIterator(ctx, next)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := f.ApplyEntries(ctx, it); err != nil {
			return err
		}
	}
}
