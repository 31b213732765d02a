package provider

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/alloy-rs/alloy-sub000/signer"
)

// Sender fills, signs, submits and watches transactions for one account.
type Sender struct {
	p      *Provider
	signer signer.TxSigner
	log    log.Logger

	chainIDFiller *ChainIDFiller
	nonceFiller   *NonceFiller
	gasFiller     *GasFiller
	heartbeat     *Heartbeat
}

// NewSender creates a sender backed by the given provider and signer.
// Its heartbeat starts immediately; call Close when done.
func NewSender(p *Provider, s signer.TxSigner, logger log.Logger) *Sender {
	snd := &Sender{
		p:             p,
		signer:        s,
		log:           logger,
		chainIDFiller: NewChainIDFiller(p),
		nonceFiller:   NewNonceFiller(p),
		gasFiller:     NewGasFiller(p),
		heartbeat:     NewHeartbeat(p, logger),
	}
	snd.heartbeat.Start()
	return snd
}

func (s *Sender) Close() {
	s.heartbeat.Stop()
}

// Heartbeat exposes the pending-transaction watcher, e.g. to watch
// transactions submitted elsewhere.
func (s *Sender) Heartbeat() *Heartbeat {
	return s.heartbeat
}

// Send fills the request, signs it and submits it. A nonce claimed by the
// fill is handed back for reuse when the submission fails.
func (s *Sender) Send(ctx context.Context, req *TxRequest) (*types.Transaction, error) {
	req.From = s.signer.Address()
	filledNonce := req.Nonce == nil
	if err := Fill(ctx, req, s.chainIDFiller, s.gasFiller, s.nonceFiller); err != nil {
		return nil, fmt.Errorf("failed to fill tx: %w", err)
	}
	tx, err := BuildTx(req)
	if err != nil {
		s.releaseNonce(req, filledNonce)
		return nil, err
	}
	signed, err := s.signer.Sign(ctx, tx)
	if err != nil {
		s.releaseNonce(req, filledNonce)
		return nil, fmt.Errorf("failed to sign tx: %w", err)
	}
	if err := s.p.SendTransaction(ctx, signed); err != nil {
		s.releaseNonce(req, filledNonce)
		return nil, fmt.Errorf("failed to send tx: %w", err)
	}
	s.log.Debug("Sent transaction", "tx", signed.Hash(), "nonce", signed.Nonce())
	return signed, nil
}

// SendAndWait submits the request and blocks until the transaction is
// confirmed at the configured confirmation depth.
func (s *Sender) SendAndWait(ctx context.Context, req *TxRequest) (*types.Receipt, error) {
	tx, err := s.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	receipt, err := s.heartbeat.WaitMined(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to confirm tx %s: %w", tx.Hash(), err)
	}
	return receipt, nil
}

func (s *Sender) releaseNonce(req *TxRequest, filled bool) {
	if filled && req.Nonce != nil {
		s.nonceFiller.ReleaseNonce(req.From, *req.Nonce)
	}
}
