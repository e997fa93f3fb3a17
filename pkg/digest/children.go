package digest

import (
	"context"
	"fmt"
	"sort"

	"github.com/praetorian-inc/hoard/pkg/containers"
	"github.com/praetorian-inc/hoard/pkg/queue"
	"github.com/praetorian-inc/hoard/pkg/types"
)

// CreateChildren materializes the members of a container document: one
// child per email attachment, or the extracted tree of an archive or PST.
// New children are scheduled for digestion; existing ones are left alone.
// It returns the number of children created.
func (e *Engine) CreateChildren(ctx context.Context, doc *types.Document, rec *types.Record) (int, error) {
	kind := containers.KindOf(doc.ContentType)
	switch {
	case kind.IsEmail():
		return e.attachmentChildren(ctx, doc, rec)
	case kind.Extracts():
		return e.treeChildren(ctx, doc, kind)
	}
	return 0, nil
}

func (e *Engine) attachmentChildren(ctx context.Context, doc *types.Document, rec *types.Record) (int, error) {
	numbers := make([]string, 0, len(rec.Attachments))
	for n := range rec.Attachments {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)

	created := 0
	flags := doc.Flags.Inherited()
	for _, n := range numbers {
		att := rec.Attachments[n]
		child, isNew, err := e.store.GetOrCreateDocument(ctx, &types.Document{
			CollectionID: doc.CollectionID,
			ContainerID:  doc.ID,
			ParentID:     doc.ID,
			Path:         n,
			Filename:     att.Filename,
			ContentType:  att.ContentType,
			DiskSize:     int64(att.Size),
			Flags:        flags,
		})
		if err != nil {
			return created, err
		}
		if !isNew {
			continue
		}
		created++
		if e.queue != nil {
			if _, err := e.queue.PutDocument(ctx, queue.Digest, child.ID); err != nil {
				return created, err
			}
		}
		e.logger.Debug("new child", "document", doc.ID, "child", child.ID, "part", n)
	}
	return created, nil
}

func (e *Engine) treeChildren(ctx context.Context, doc *types.Document, kind containers.Kind) (int, error) {
	ex, err := e.extractor(kind)
	if err != nil {
		return 0, err
	}
	dir, err := ex.Extract(ctx, e.source, doc)
	if err != nil {
		return 0, err
	}
	coll, err := e.store.GetCollectionByID(ctx, doc.CollectionID)
	if err != nil {
		return 0, fmt.Errorf("loading collection of document %d: %w", doc.ID, err)
	}

	results, err := e.walker.Walk(ctx, dir, "", doc, coll)
	if err != nil {
		return 0, fmt.Errorf("walking members of document %d: %w", doc.ID, err)
	}
	created := 0
	for _, r := range results {
		if r.Created {
			created++
		}
	}
	return created, nil
}
