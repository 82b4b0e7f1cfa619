package backup

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/protocol"
	"github.com/dmitrijs2005/peervault/internal/transfer"
)

// beginRetrieve prepares a receiver over the quarantine directory and asks
// provider to stream our stored backup into it.
func (o *Orchestrator) beginRetrieve(ctx context.Context, provider string) error {
	if o.active != nil {
		return common.ErrBusy
	}
	if provider == "" || provider == o.self.Node {
		return fmt.Errorf("%w: %q", common.ErrUnknownPeer, provider)
	}

	agent, err := o.spawnAgent(transfer.Job{Role: transfer.RoleReceiver, Root: common.QuarantineDir})
	if err != nil {
		return err
	}
	if err := o.claim(agent, OpRetrieve, provider); err != nil {
		o.rt.Stop(agent)
		return err
	}
	if err := o.startReceiver(ctx, agent); err != nil {
		o.abort(agent)
		return err
	}

	resp, err := o.request(ctx, peerOrchestrator(provider), protocol.BackupRetrieve{Agent: agent})
	if err != nil {
		o.abort(agent)
		return fmt.Errorf("retrieve request to %s: %w", provider, err)
	}
	r, err := protocol.DecodeAs[protocol.BackupRetrieveResponse](resp)
	if err != nil {
		o.abort(agent)
		return err
	}
	if r.Declined {
		o.abort(agent)
		return fmt.Errorf("%w by %s: %s", common.ErrDeclined, provider, r.Reason)
	}

	o.book.RetrievedBackupAt = r.LastBackup
	if err := o.save(ctx); err != nil {
		o.logger.Error(ctx, "saving retrieve timestamp failed", "error", err)
	}
	o.logger.Info(ctx, "retrieve started", "provider", provider, "agent", agent.String())
	return nil
}

// onBackupRetrieve streams a client's stored backup, verbatim, to the
// client's receiving agent.
func (o *Orchestrator) onBackupRetrieve(ctx context.Context, client string, m protocol.BackupRetrieve) protocol.BackupRetrieveResponse {
	decline := func(reason string) protocol.BackupRetrieveResponse {
		o.logger.Info(ctx, "retrieve declined", "client", client, "reason", reason)
		return protocol.BackupRetrieveResponse{Declined: true, Reason: reason}
	}

	if o.active != nil {
		return decline("busy")
	}
	if m.Agent.Node != client {
		return decline(fmt.Sprintf("agent %s does not belong to %s", m.Agent, client))
	}
	dir, err := clientDir(client)
	if err != nil {
		return decline(err.Error())
	}

	agent, err := o.spawnAgent(transfer.Job{Role: transfer.RoleSender, Root: dir, Target: m.Agent})
	if err != nil {
		return decline(err.Error())
	}
	if err := o.claim(agent, OpServeRetrieve, client); err != nil {
		o.rt.Stop(agent)
		return decline(err.Error())
	}
	if err := o.startSender(ctx, agent); err != nil {
		o.abort(agent)
		return decline(err.Error())
	}

	resp := protocol.BackupRetrieveResponse{}
	if t, ok := o.book.Served[client]; ok {
		resp.LastBackup = &t
	}
	o.logger.Info(ctx, "serving retrieve", "client", client, "agent", agent.String())
	return resp
}
