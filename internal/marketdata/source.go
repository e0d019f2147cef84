package marketdata

import (
	"context"
	"errors"

	"github.com/irfndi/adaptive-ensemble/internal/models"
)

// ErrUnavailable is returned when the provider has no usable price for an
// instrument, whether the symbol is unknown or the market is closed.
var ErrUnavailable = errors.New("market data unavailable")

// Source provides candles and latest closes for an instrument.
type Source interface {
	GetCandles(ctx context.Context, instrument, timeframe, period string) ([]models.Candle, error)
	GetLatestClose(ctx context.Context, instrument, timeframe string) (float64, error)
}

// HeadlineSource provides recent news headlines for an instrument.
type HeadlineSource interface {
	GetHeadlines(ctx context.Context, instrument string, limit int) ([]models.Headline, error)
}
