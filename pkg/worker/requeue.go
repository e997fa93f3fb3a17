package worker

import (
	"context"

	"github.com/praetorian-inc/hoard/pkg/queue"
	"github.com/praetorian-inc/hoard/pkg/store"
	"github.com/praetorian-inc/hoard/pkg/types"
)

// Finder selects documents for requeueing.
type Finder interface {
	FindDocuments(ctx context.Context, f store.DocumentFilter) ([]*types.Document, error)
}

// Enqueuer receives document jobs.
type Enqueuer interface {
	PutDocument(ctx context.Context, queue string, id int64) (bool, error)
}

// EnqueueUndigested schedules every document of the collection that was
// never digested. Collection roots are skipped. It returns the number of
// jobs added.
func EnqueueUndigested(ctx context.Context, docs Finder, q Enqueuer, collectionID int64) (int, error) {
	found, err := docs.FindDocuments(ctx, store.DocumentFilter{CollectionID: collectionID, Undigested: true})
	if err != nil {
		return 0, err
	}
	return enqueue(ctx, q, found, func(d *types.Document) bool {
		return d.ContainerID != 0 || d.Path != ""
	})
}

// RetryBroken schedules broken documents of the collection again. An
// empty flag selects every broken document.
func RetryBroken(ctx context.Context, docs Finder, q Enqueuer, collectionID int64, flag string) (int, error) {
	f := store.DocumentFilter{CollectionID: collectionID, Broken: flag, AnyBroken: flag == ""}
	found, err := docs.FindDocuments(ctx, f)
	if err != nil {
		return 0, err
	}
	return enqueue(ctx, q, found, nil)
}

func enqueue(ctx context.Context, q Enqueuer, docs []*types.Document, keep func(*types.Document) bool) (int, error) {
	n := 0
	for _, d := range docs {
		if keep != nil && !keep(d) {
			continue
		}
		added, err := q.PutDocument(ctx, queue.Digest, d.ID)
		if err != nil {
			return n, err
		}
		if added {
			n++
		}
	}
	return n, nil
}
