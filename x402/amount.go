package x402

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidPrice is returned for prices that are not non-negative decimals
// representable in the asset's smallest unit.
var ErrInvalidPrice = errors.New("invalid price")

// AtomicAmount converts a decimal price ("0.001") into the asset's smallest
// unit given its decimals ("1000" for 6 decimals).
func AtomicAmount(price string, decimals int) (string, error) {
	price = strings.TrimPrefix(strings.TrimSpace(price), "$")
	if price == "" || decimals < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrice, price)
	}
	r, ok := new(big.Rat).SetString(price)
	if !ok || r.Sign() < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrice, price)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return "", fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidPrice, price, decimals)
	}
	return r.Num().String(), nil
}
