// Package hexnum normalizes wire-format numeric values from EVM JSON-RPC
// responses. Nodes report quantities as 0x-prefixed hex strings whose values
// can exceed the native 64-bit range (state counts, block numbers at extreme
// scale), so the canonical representation here is a decimal string produced
// with arbitrary-precision arithmetic.
package hexnum

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Decimal converts a 0x-prefixed hex quantity to its canonical decimal string.
// Values without the hex prefix, and malformed hex values, are passed through
// unchanged — the caller sees exactly what the node reported.
func Decimal(v string) string {
	if !hasHexPrefix(v) {
		return v
	}
	// Canonical quantities take the hexutil fast path; values with leading
	// zeros (seen from some nodes) still decode via big.Int.
	if n, err := hexutil.DecodeBig(v); err == nil {
		return n.String()
	}
	n, ok := new(big.Int).SetString(v[2:], 16)
	if !ok {
		return v
	}
	return n.String()
}

// Uint64 narrows a wire quantity (hex or decimal string) to uint64. This is
// only safe where the call site has established the value fits — block
// numbers and unix timestamps in practice — and is an accepted range
// trade-off, not a general-purpose conversion; values beyond 64 bits return
// an error rather than wrapping.
func Uint64(v string) (uint64, error) {
	base := 10
	digits := v
	if hasHexPrefix(v) {
		base = 16
		digits = v[2:]
	}
	n, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("narrow quantity %q: %w", v, err)
	}
	return n, nil
}

func hasHexPrefix(v string) bool {
	return strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X")
}
