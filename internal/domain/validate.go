package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Chains the custodial signer can provision for. The signer rejects anything
// else anyway; checking locally keeps the rejection synchronous.
var supportedChains = map[string]bool{
	"ethereum": true,
	"solana":   true,
}

func ValidateChain(chain string) (string, error) {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if chain == "" {
		return "", Validationf("chain is required")
	}
	if !supportedChains[chain] {
		return "", Validationf("unsupported chain %q", chain)
	}
	return chain, nil
}

// ValidateAddress normalizes an EVM destination address to its checksum form.
func ValidateAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", Validationf("invalid address %q", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

func ValidateAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Validationf("amount must be > 0")
	}
	return nil
}

func ParseSide(s string) (OrderSide, error) {
	switch OrderSide(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", Validationf("invalid side %q", s)
}

func ParseKind(s string) (OrderKind, error) {
	switch OrderKind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindLimit:
		return KindLimit, nil
	case KindMarket:
		return KindMarket, nil
	case "":
		return KindLimit, nil
	}
	return "", Validationf("invalid order type %q", s)
}

// ValidateOrder checks the size/price invariants: size > 0 always, price > 0
// and present for limit orders, absent for market orders.
func ValidateOrder(symbol string, size decimal.Decimal, price *decimal.Decimal, kind OrderKind) error {
	if strings.TrimSpace(symbol) == "" {
		return Validationf("symbol is required")
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return Validationf("size must be > 0")
	}
	switch kind {
	case KindLimit:
		if price == nil {
			return Validationf("limit order requires a price")
		}
		if price.LessThanOrEqual(decimal.Zero) {
			return Validationf("price must be > 0")
		}
	case KindMarket:
		if price != nil {
			return Validationf("market order must not carry a price")
		}
	}
	return nil
}
