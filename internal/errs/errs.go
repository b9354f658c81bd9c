// Package errs defines the error taxonomy shared across the controller core's
// components, ported from a flat enum into sentinel kinds plus a wrapping
// error type so callers can use errors.Is/errors.As across package
// boundaries.
package errs

import "fmt"

// Kind enumerates the distinguishable failure categories raised by the
// controller core and its collaborators.
type Kind int

const (
	_ Kind = iota
	MisbehaveNode
	BannedNode
	AddressOriginCheckError
	ProvideAddressError
	NoProvideAddress
	NoBlock
	NoProof
	NoTxHeight
	NoTxIndex
	NoTransaction
	NoBlockHeight
	NoBlockHash
	NoneProposal
	NoneBlockBody
	NoneBlockHeader
	NoneChainStatus
	EarlyStatus
	StoreError
	ExecuteError
	EncodeError
	DecodeError
	NoCandidate
	NoForkTree
	DupTransaction
	ProposalTooHigh
	ProposalTooLow
	ProposalCheckError
	ConsensusProposalCheckError
	BlockCheckError
	HashCheckError
	HashLenError
	SigLenError
	VersionOrIdCheckError
	InvalidValidUntilBlock
)

var kindNames = map[Kind]string{
	MisbehaveNode:               "misbehave node",
	BannedNode:                  "banned node",
	AddressOriginCheckError:     "address/origin mismatch",
	ProvideAddressError:         "provide address error",
	NoProvideAddress:            "no provide address",
	NoBlock:                     "no block",
	NoProof:                     "no proof",
	NoTxHeight:                  "no tx height",
	NoTxIndex:                   "no tx index",
	NoTransaction:               "no transaction",
	NoBlockHeight:               "no block height",
	NoBlockHash:                 "no block hash",
	NoneProposal:                "none proposal",
	NoneBlockBody:               "none block body",
	NoneBlockHeader:             "none block header",
	NoneChainStatus:             "none chain status",
	EarlyStatus:                 "early status",
	StoreError:                  "store error",
	ExecuteError:                "execute error",
	EncodeError:                 "encode error",
	DecodeError:                 "decode error",
	NoCandidate:                 "no candidate",
	NoForkTree:                  "no fork tree",
	DupTransaction:              "duplicate transaction",
	ProposalTooHigh:             "proposal too high",
	ProposalTooLow:              "proposal too low",
	ProposalCheckError:          "proposal check failed",
	ConsensusProposalCheckError: "consensus proposal check failed",
	BlockCheckError:             "block check failed",
	HashCheckError:              "hash check failed",
	HashLenError:                "hash length invalid",
	SigLenError:                 "signature length invalid",
	VersionOrIdCheckError:       "version or chain id mismatch",
	InvalidValidUntilBlock:      "valid_until_block out of acceptable window",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown error"
}

// Error wraps a Kind with optional context (height, hash, wrapped cause).
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, errs.New(SomeKind, "")) style comparisons by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given kind with a formatted detail message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

// sentinel instances for errors.Is comparisons where no detail is needed.
var (
	ErrMisbehaveNode           = &Error{Kind: MisbehaveNode}
	ErrBannedNode              = &Error{Kind: BannedNode}
	ErrAddressOriginCheckError = &Error{Kind: AddressOriginCheckError}
	ErrEarlyStatus             = &Error{Kind: EarlyStatus}
	ErrNoForkTree              = &Error{Kind: NoForkTree}
	ErrNoCandidate             = &Error{Kind: NoCandidate}
	ErrNoneBlockHeader         = &Error{Kind: NoneBlockHeader}
	ErrNoneBlockBody           = &Error{Kind: NoneBlockBody}
	ErrNoneProposal            = &Error{Kind: NoneProposal}
	ErrProposalCheckError      = &Error{Kind: ProposalCheckError}
	ErrBlockCheckError         = &Error{Kind: BlockCheckError}
	ErrHashCheckError          = &Error{Kind: HashCheckError}
	ErrVersionOrIdCheckError   = &Error{Kind: VersionOrIdCheckError}
)

// Of reports whether err carries the given Kind anywhere in its chain.
func Of(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
