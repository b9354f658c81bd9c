package rpc

import (
	"context"
	"encoding/hex"

	"github.com/Klingon-tech/controller-core/internal/auth"
	"github.com/Klingon-tech/controller-core/pkg/block"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

// blockView is the JSON-facing projection of a CompactBlock: header fields
// flattened, transaction hashes hex-encoded.
type blockView struct {
	Version          uint32   `json:"version"`
	Height           uint64   `json:"height"`
	PrevHash         string   `json:"prev_hash"`
	Timestamp        uint64   `json:"timestamp"`
	TransactionsRoot string   `json:"transactions_root"`
	Proposer         string   `json:"proposer"`
	TxHashes         []string `json:"tx_hashes"`
}

func newBlockView(cb *block.CompactBlock) blockView {
	hashes := make([]string, len(cb.Body.TxHashes))
	for i, h := range cb.Body.TxHashes {
		hashes[i] = h.String()
	}
	return blockView{
		Version:          cb.Version,
		Height:           cb.Header.Height,
		PrevHash:         cb.Header.PrevHash.String(),
		Timestamp:        cb.Header.Timestamp,
		TransactionsRoot: cb.Header.TransactionsRoot.String(),
		Proposer:         hex.EncodeToString(cb.Header.Proposer[:]),
		TxHashes:         hashes,
	}
}

// systemConfigView is the JSON-facing projection of auth.SystemConfig.
type systemConfigView struct {
	ChainID        string   `json:"chain_id"`
	Version        uint32   `json:"version"`
	BlockInterval  uint64   `json:"block_interval"`
	Validators     []string `json:"validators"`
	AdminAddresses []string `json:"admin_addresses"`
	EmergencyBrake bool     `json:"emergency_brake"`
}

func newSystemConfigView(cfg auth.SystemConfig) systemConfigView {
	v := systemConfigView{
		ChainID:        hex.EncodeToString(cfg.ChainID[:]),
		Version:        cfg.Version,
		BlockInterval:  cfg.BlockInterval,
		EmergencyBrake: cfg.EmergencyBrake,
	}
	for _, a := range cfg.Validators {
		v.Validators = append(v.Validators, hex.EncodeToString(a[:]))
	}
	for _, a := range cfg.AdminAddresses {
		v.AdminAddresses = append(v.AdminAddresses, hex.EncodeToString(a[:]))
	}
	return v
}

func decodeHash(s string) (types.Hash, *Error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != types.HashSize {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: "hash must be 32-byte hex"}
	}
	var h types.Hash
	copy(h[:], b)
	return h, nil
}

func (s *Server) handleGetBlockNumber(req *Request) (interface{}, *Error) {
	var p PendingParam
	if req.Params != nil {
		if rpcErr := parseParams(req, &p); rpcErr != nil {
			return nil, rpcErr
		}
	}
	return s.ctl.GetBlockNumber(p.Pending), nil
}

func (s *Server) handleSendRawTransaction(req *Request) (interface{}, *Error) {
	var p RawTxParam
	if rpcErr := parseParams(req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	raw, err := hex.DecodeString(p.RawTx)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "raw_tx must be hex"}
	}
	hash, serr := s.ctl.SendRawTransaction(context.Background(), raw)
	if serr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: serr.Error()}
	}
	return hash.String(), nil
}

func (s *Server) handleGetBlockByHash(req *Request) (interface{}, *Error) {
	var p HashParam
	if rpcErr := parseParams(req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	hash, rpcErr := decodeHash(p.Hash)
	if rpcErr != nil {
		return nil, rpcErr
	}
	cb, err := s.ctl.GetBlockByHash(context.Background(), hash)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: err.Error()}
	}
	return newBlockView(cb), nil
}

func (s *Server) handleGetBlockByNumber(req *Request) (interface{}, *Error) {
	var p HeightParam
	if rpcErr := parseParams(req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	cb, err := s.ctl.GetBlockByNumber(context.Background(), p.Height)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: err.Error()}
	}
	return newBlockView(cb), nil
}

func (s *Server) handleGetBlockHash(req *Request) (interface{}, *Error) {
	var p HeightParam
	if rpcErr := parseParams(req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	hash, err := s.ctl.GetBlockHash(context.Background(), p.Height)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: err.Error()}
	}
	return hash.String(), nil
}

func (s *Server) handleGetTxBlockNumber(req *Request) (interface{}, *Error) {
	var p HashParam
	if rpcErr := parseParams(req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	hash, rpcErr := decodeHash(p.Hash)
	if rpcErr != nil {
		return nil, rpcErr
	}
	height, err := s.ctl.GetTxBlockNumber(context.Background(), hash)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: err.Error()}
	}
	return height, nil
}

func (s *Server) handleGetTxIndex(req *Request) (interface{}, *Error) {
	var p HashParam
	if rpcErr := parseParams(req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	hash, rpcErr := decodeHash(p.Hash)
	if rpcErr != nil {
		return nil, rpcErr
	}
	idx, err := s.ctl.GetTxIndex(context.Background(), hash)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: err.Error()}
	}
	return idx, nil
}

func (s *Server) handleGetPeerCount(req *Request) (interface{}, *Error) {
	return s.ctl.GetPeerCount(), nil
}

func (s *Server) handleGetSystemConfig(req *Request) (interface{}, *Error) {
	return newSystemConfigView(s.ctl.GetSystemConfig()), nil
}

func (s *Server) handleChainGetProposal(req *Request) (interface{}, *Error) {
	data, err := s.ctl.ChainGetProposal()
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: err.Error()}
	}
	return hex.EncodeToString(data), nil
}

func (s *Server) handleChainCheckProposal(req *Request) (interface{}, *Error) {
	var p ProposalParam
	if rpcErr := parseParams(req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	proposal, err := hex.DecodeString(p.Proposal)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "proposal must be hex"}
	}
	ok, cerr := s.ctl.ChainCheckProposal(context.Background(), p.Height, proposal)
	if cerr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: cerr.Error()}
	}
	return ok, nil
}

func (s *Server) handleChainCommitBlock(req *Request) (interface{}, *Error) {
	var p CommitBlockParam
	if rpcErr := parseParams(req, &p); rpcErr != nil {
		return nil, rpcErr
	}
	proposal, err := hex.DecodeString(p.Proposal)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "proposal must be hex"}
	}
	proof, err := hex.DecodeString(p.Proof)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "proof must be hex"}
	}
	if cerr := s.ctl.ChainCommitBlock(context.Background(), p.Height, proposal, proof); cerr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: cerr.Error()}
	}
	return true, nil
}
