package backup

import (
	"context"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/snapshot"
)

func (o *Orchestrator) importDocs(ctx context.Context, docs map[string][]byte) error {
	if o.active != nil {
		return common.ErrBusy
	}
	return snapshot.Import(ctx, o.store, common.DocumentsDir, docs)
}

func (o *Orchestrator) exportDocs(ctx context.Context) (map[string][]byte, error) {
	return snapshot.FlattenFull(ctx, o.store, common.DocumentsDir)
}
