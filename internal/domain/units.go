package domain

import (
	"math/big"
	"strings"
)

// weiPerEther is 10^18.
var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// WeiToEther renders a non-negative wei amount as an exact decimal ether
// string. Integer DivMod only; the fractional part is left-padded to 18
// digits and stripped of trailing zeros, so 136500000000000 wei renders as
// "0.0001365" and a whole-ether amount carries no fraction at all.
func WeiToEther(wei *big.Int) string {
	if wei == nil || wei.Sign() == 0 {
		return "0"
	}
	whole, frac := new(big.Int).DivMod(wei, weiPerEther, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	digits := frac.String()
	if pad := 18 - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return whole.String() + "." + strings.TrimRight(digits, "0")
}

// WeiToString is the plain decimal render of the wei amount itself.
func WeiToString(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return wei.String()
}
