package market

import (
	"context"
	"strings"

	"market-oracle-bot/internal/types"
)

// CryptoSuffix marks a crypto pair in a watch-list, e.g. BTC-USD
const CryptoSuffix = "-USD"

type source interface {
	Candles(ctx context.Context, ticker string) ([]types.Candle, error)
}

// Router sends equity symbols to the stock source and -USD pairs to the crypto source
type Router struct {
	Stocks source
	Crypto source
}

// IsCrypto reports whether ticker names a crypto pair
func IsCrypto(ticker string) bool {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	return len(t) > len(CryptoSuffix) && strings.HasSuffix(t, CryptoSuffix)
}

func (r Router) Candles(ctx context.Context, ticker string) ([]types.Candle, error) {
	if IsCrypto(ticker) {
		base := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(ticker)), CryptoSuffix)
		return r.Crypto.Candles(ctx, base)
	}
	return r.Stocks.Candles(ctx, ticker)
}
