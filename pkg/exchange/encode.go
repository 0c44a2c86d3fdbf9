package exchange

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Canonical layout, fixed order:
//
//	7 addresses  (20 bytes each)  exchange maker taker feeRecipient target staticTarget paymentToken
//	9 integers   (32-byte BE)     makerRelayerFee takerRelayerFee makerProtocolFee takerProtocolFee
//	                              basePrice extra listingTime expirationTime salt
//	4 enums      (1 byte each)    feeMethod side saleKind howToCall
//	3 bytestrings (4-byte BE len) calldata replacementPattern staticExtradata
const (
	wordSize   = 32
	fixedSize  = 7*common.AddressLength + 9*wordSize + 4
	maxByteLen = math.MaxUint32
)

// EncodedSize returns the length of the canonical encoding of o
func EncodedSize(o *Order) int {
	return fixedSize + 12 + len(o.Calldata) + len(o.ReplacementPattern) + len(o.StaticExtradata)
}

// EncodeOrder returns the canonical byte encoding of o
func EncodeOrder(o *Order) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(EncodedSize(o))
	if err := WriteOrder(&buf, o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteOrder streams the canonical encoding of o into w
func WriteOrder(w io.Writer, o *Order) error {
	enc := encoder{w: w}

	for _, a := range []common.Address{
		o.Exchange, o.Maker, o.Taker, o.FeeRecipient,
		o.Target, o.StaticTarget, o.PaymentToken,
	} {
		enc.write(a.Bytes())
	}

	ints := []struct {
		name string
		v    *big.Int
	}{
		{"makerRelayerFee", o.MakerRelayerFee},
		{"takerRelayerFee", o.TakerRelayerFee},
		{"makerProtocolFee", o.MakerProtocolFee},
		{"takerProtocolFee", o.TakerProtocolFee},
		{"basePrice", o.BasePrice},
		{"extra", o.Extra},
	}
	for _, f := range ints {
		if err := enc.word(f.name, f.v); err != nil {
			return err
		}
	}
	enc.uint64Word(o.ListingTime)
	enc.uint64Word(o.ExpirationTime)
	if err := enc.word("salt", o.Salt); err != nil {
		return err
	}

	enc.write([]byte{uint8(o.FeeMethod), uint8(o.Side), uint8(o.SaleKind), uint8(o.HowToCall)})

	for _, f := range []struct {
		name string
		b    []byte
	}{
		{"calldata", o.Calldata},
		{"replacementPattern", o.ReplacementPattern},
		{"staticExtradata", o.StaticExtradata},
	} {
		if err := enc.bytes(f.name, f.b); err != nil {
			return err
		}
	}
	return enc.err
}

type encoder struct {
	w   io.Writer
	err error
	buf [wordSize]byte
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	if _, err := e.w.Write(b); err != nil {
		e.err = wrapError(Encoding, err, "write failed")
	}
}

func (e *encoder) word(name string, v *big.Int) error {
	if e.err != nil {
		return e.err
	}
	v = intOrZero(v)
	if v.Sign() < 0 {
		return newError(Encoding, "%s is negative", name)
	}
	if v.BitLen() > 256 {
		return newError(Encoding, "%s exceeds 256 bits", name)
	}
	v.FillBytes(e.buf[:])
	e.write(e.buf[:])
	return e.err
}

func (e *encoder) uint64Word(v uint64) {
	clear(e.buf[:])
	binary.BigEndian.PutUint64(e.buf[wordSize-8:], v)
	e.write(e.buf[:])
}

func (e *encoder) bytes(name string, b []byte) error {
	if e.err != nil {
		return e.err
	}
	if uint64(len(b)) > maxByteLen {
		return newError(Encoding, "%s longer than %d bytes", name, uint64(maxByteLen))
	}
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	e.write(l[:])
	e.write(b)
	return e.err
}
