package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/cryptox"
	"github.com/dmitrijs2005/peervault/internal/node"
	"github.com/dmitrijs2005/peervault/internal/protocol"
)

// ConsoleProcess is the source address of console commands.
const ConsoleProcess = "console"

var errorCodes = map[string]error{
	"busy":         common.ErrBusy,
	"declined":     common.ErrDeclined,
	"no_backup":    common.ErrNoBackup,
	"timeout":      common.ErrTimeout,
	"unavailable":  common.ErrUnavailable,
	"unknown_peer": common.ErrUnknownPeer,
	"decryption":   cryptox.ErrDecryptionFailed,
}

func uiResult(err error) protocol.UIResult {
	res := protocol.UIResult{Error: err.Error()}
	for code, sentinel := range errorCodes {
		if errors.Is(err, sentinel) {
			res.Code = code
			break
		}
	}
	return res
}

// Requester is the part of node.Runtime the console client uses.
type Requester interface {
	Address(name string) node.Address
	Request(ctx context.Context, msg *node.Message) (*node.Message, error)
}

// Client sends console commands to the local orchestrator. Every call waits
// for the command to finish or ctx to expire.
type Client struct {
	rt   Requester
	self node.Address
	orch node.Address
}

func NewClient(rt Requester) *Client {
	return &Client{
		rt:   rt,
		self: rt.Address(ConsoleProcess),
		orch: rt.Address(protocol.OrchestratorProcess),
	}
}

// Backup sends the documents to provider encrypted under secret.
func (c *Client) Backup(ctx context.Context, provider, secret string) error {
	_, err := c.call(ctx, protocol.UIBackup{Node: provider, Secret: secret})
	return err
}

// Retrieve fetches our backup from provider into quarantine.
func (c *Client) Retrieve(ctx context.Context, provider string) error {
	_, err := c.call(ctx, protocol.UIRetrieve{Node: provider})
	return err
}

// Decrypt replaces the documents with the quarantined backup.
func (c *Client) Decrypt(ctx context.Context, secret string) error {
	_, err := c.call(ctx, protocol.UIDecrypt{Secret: secret})
	return err
}

func (c *Client) Status(ctx context.Context) (protocol.Status, error) {
	res, err := c.call(ctx, protocol.UIStatus{})
	if err != nil {
		return protocol.Status{}, err
	}
	if res.Status == nil {
		return protocol.Status{}, fmt.Errorf("%w: status reply without status", common.ErrUnexpectedMessage)
	}
	return *res.Status, nil
}

func (c *Client) Import(ctx context.Context, docs map[string][]byte) error {
	_, err := c.call(ctx, protocol.UIImport{Docs: docs})
	return err
}

func (c *Client) Export(ctx context.Context) (map[string][]byte, error) {
	res, err := c.call(ctx, protocol.UIExport{})
	if err != nil {
		return nil, err
	}
	if res.Docs == nil {
		return map[string][]byte{}, nil
	}
	return res.Docs, nil
}

func (c *Client) call(ctx context.Context, p protocol.OrchestratorMsg) (protocol.UIResult, error) {
	msg, err := protocol.New(c.self, c.orch, p, nil)
	if err != nil {
		return protocol.UIResult{}, err
	}
	resp, err := c.rt.Request(ctx, msg)
	if err != nil {
		return protocol.UIResult{}, err
	}
	res, err := protocol.DecodeAs[protocol.UIResult](resp)
	if err != nil {
		return protocol.UIResult{}, err
	}
	if res.Error != "" {
		if sentinel, ok := errorCodes[res.Code]; ok {
			return res, fmt.Errorf("%w: %s", sentinel, res.Error)
		}
		return res, errors.New(res.Error)
	}
	return res, nil
}
