package backup

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/node"
	"github.com/dmitrijs2005/peervault/internal/protocol"
	"github.com/dmitrijs2005/peervault/internal/snapshot"
	"github.com/dmitrijs2005/peervault/internal/transfer"
)

// beginBackup asks provider to store our documents and, once it confirms,
// streams them encrypted under secret. The secret is persisted only while
// the request is outstanding.
func (o *Orchestrator) beginBackup(ctx context.Context, provider, secret string) error {
	if o.active != nil {
		return common.ErrBusy
	}
	if provider == "" || provider == o.self.Node {
		return fmt.Errorf("%w: %q", common.ErrUnknownPeer, provider)
	}
	if secret == "" {
		return fmt.Errorf("backup to %s: empty secret", provider)
	}

	size, err := snapshot.Size(ctx, o.store, common.DocumentsDir)
	if err != nil {
		return fmt.Errorf("measure documents: %w", err)
	}

	o.book.PendingSecret = secret
	defer o.clearPendingSecret(ctx)
	if err := o.save(ctx); err != nil {
		return err
	}

	resp, err := o.request(ctx, peerOrchestrator(provider), protocol.BackupRequest{Size: uint64(size)})
	if err != nil {
		return fmt.Errorf("backup request to %s: %w", provider, err)
	}
	r, err := protocol.DecodeAs[protocol.BackupRequestResponse](resp)
	if err != nil {
		return err
	}
	if !r.Accepted {
		return fmt.Errorf("%w by %s: %s", common.ErrDeclined, provider, r.Reason)
	}

	return o.onBackupConfirm(ctx, provider, r.Agent)
}

func (o *Orchestrator) clearPendingSecret(ctx context.Context) {
	if o.book.PendingSecret == "" {
		return
	}
	o.book.PendingSecret = ""
	if err := o.save(ctx); err != nil {
		o.logger.Error(ctx, "clearing pending secret failed", "error", err)
	}
}

// onBackupConfirm spawns the sending agent towards the provider's receiver.
func (o *Orchestrator) onBackupConfirm(ctx context.Context, provider string, target node.Address) error {
	if target.Node != provider {
		return fmt.Errorf("%w: %s confirmed with agent %s", common.ErrUnexpectedMessage, provider, target)
	}

	agent, err := o.spawnAgent(transfer.Job{
		Role:   transfer.RoleSender,
		Root:   common.DocumentsDir,
		Target: target,
		Secret: o.book.PendingSecret,
	})
	if err != nil {
		return err
	}
	if err := o.claim(agent, OpBackup, provider); err != nil {
		o.rt.Stop(agent)
		return err
	}

	now := o.now()
	o.book.PendingSecret = ""
	o.book.Provider = provider
	o.book.LastBackupAt = &now
	if err := o.save(ctx); err != nil {
		o.abort(agent)
		return err
	}

	if err := o.startSender(ctx, agent); err != nil {
		o.abort(agent)
		return err
	}
	o.logger.Info(ctx, "backup started", "provider", provider, "agent", agent.String())
	return nil
}

// onBackupRequest answers a client that wants us to store its backup.
func (o *Orchestrator) onBackupRequest(ctx context.Context, client string, m protocol.BackupRequest) protocol.BackupRequestResponse {
	decline := func(reason string) protocol.BackupRequestResponse {
		o.logger.Info(ctx, "backup request declined", "client", client, "reason", reason)
		return protocol.BackupRequestResponse{Reason: reason}
	}

	if o.active != nil {
		return decline("busy")
	}
	if client == o.self.Node {
		return decline("cannot back up to self")
	}
	dir, err := clientDir(client)
	if err != nil {
		return decline(err.Error())
	}
	if err := o.opts.Policy.Accept(ctx, client, m.Size); err != nil {
		return decline(err.Error())
	}

	agent, err := o.spawnAgent(transfer.Job{Role: transfer.RoleReceiver, Root: dir})
	if err != nil {
		return decline(err.Error())
	}
	if err := o.claim(agent, OpStore, client); err != nil {
		o.rt.Stop(agent)
		return decline(err.Error())
	}
	if err := o.startReceiver(ctx, agent); err != nil {
		o.abort(agent)
		return decline(err.Error())
	}

	o.book.Served[client] = o.now()
	if err := o.save(ctx); err != nil {
		o.abort(agent)
		return decline(err.Error())
	}

	o.logger.Info(ctx, "backup request accepted", "client", client, "size", m.Size, "agent", agent.String())
	return protocol.BackupRequestResponse{Accepted: true, Agent: agent}
}
