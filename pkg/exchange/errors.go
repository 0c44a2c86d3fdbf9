package exchange

import (
	"errors"
	"fmt"
)

// Kind classifies why an order or a match was rejected
type Kind uint8

const (
	KindUnknown Kind = iota
	MalformedEnum
	NotYetListed
	Expired
	BadAuctionParams
	StaticCheckFailed
	SignatureMismatch
	AmbiguousMaker
	PriceIncompatible
	AssetMismatch
	AlreadyFinalized
	CollaboratorUnavailable
	SideMismatch
	ExchangeMismatch
	FeeBelowMinimum
	FeeMismatch
	TakerMismatch
	Unauthorized
	AlreadyApproved
	InsufficientBalance
	Encoding
)

var kindNames = map[Kind]string{
	KindUnknown:             "Unknown",
	MalformedEnum:           "MalformedEnum",
	NotYetListed:            "NotYetListed",
	Expired:                 "Expired",
	BadAuctionParams:        "BadAuctionParams",
	StaticCheckFailed:       "StaticCheckFailed",
	SignatureMismatch:       "SignatureMismatch",
	AmbiguousMaker:          "AmbiguousMaker",
	PriceIncompatible:       "PriceIncompatible",
	AssetMismatch:           "AssetMismatch",
	AlreadyFinalized:        "AlreadyFinalized",
	CollaboratorUnavailable: "CollaboratorUnavailable",
	SideMismatch:            "SideMismatch",
	ExchangeMismatch:        "ExchangeMismatch",
	FeeBelowMinimum:         "FeeBelowMinimum",
	FeeMismatch:             "FeeMismatch",
	TakerMismatch:           "TakerMismatch",
	Unauthorized:            "Unauthorized",
	AlreadyApproved:         "AlreadyApproved",
	InsufficientBalance:     "InsufficientBalance",
	Encoding:                "Encoding",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Retryable is true only for transient collaborator failures
func (k Kind) Retryable() bool { return k == CollaboratorUnavailable }

// Error is returned by every exchange operation that rejects an input
type Error struct {
	Kind Kind
	Msg  string
	Err  error // underlying cause, if any
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrMalformedEnum           = &Error{Kind: MalformedEnum}
	ErrNotYetListed            = &Error{Kind: NotYetListed}
	ErrExpired                 = &Error{Kind: Expired}
	ErrBadAuctionParams        = &Error{Kind: BadAuctionParams}
	ErrStaticCheckFailed       = &Error{Kind: StaticCheckFailed}
	ErrSignatureMismatch       = &Error{Kind: SignatureMismatch}
	ErrAmbiguousMaker          = &Error{Kind: AmbiguousMaker}
	ErrPriceIncompatible       = &Error{Kind: PriceIncompatible}
	ErrAssetMismatch           = &Error{Kind: AssetMismatch}
	ErrAlreadyFinalized        = &Error{Kind: AlreadyFinalized}
	ErrCollaboratorUnavailable = &Error{Kind: CollaboratorUnavailable}
	ErrSideMismatch            = &Error{Kind: SideMismatch}
	ErrExchangeMismatch        = &Error{Kind: ExchangeMismatch}
	ErrFeeBelowMinimum         = &Error{Kind: FeeBelowMinimum}
	ErrFeeMismatch             = &Error{Kind: FeeMismatch}
	ErrTakerMismatch           = &Error{Kind: TakerMismatch}
	ErrUnauthorized            = &Error{Kind: Unauthorized}
	ErrAlreadyApproved         = &Error{Kind: AlreadyApproved}
	ErrInsufficientBalance     = &Error{Kind: InsufficientBalance}
	ErrEncoding                = &Error{Kind: Encoding}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// NewError builds an *Error for collaborators outside this package
func NewError(kind Kind, format string, args ...any) error {
	return newError(kind, format, args...)
}

// KindOf extracts the Kind from an error chain, KindUnknown if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
