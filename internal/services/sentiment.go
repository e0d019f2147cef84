package services

import (
	"context"

	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/jonreiter/govader"
	"github.com/sirupsen/logrus"
)

// HeadlineSource yields recent headlines about an instrument.
type HeadlineSource interface {
	GetHeadlines(ctx context.Context, instrument string, limit int) ([]models.Headline, error)
}

// SentimentReason is one scored headline.
type SentimentReason struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// SentimentProducer scores the news flow for an instrument in [-1, 1].
type SentimentProducer interface {
	Score(ctx context.Context, instrument string) (float64, []SentimentReason, error)
}

// marketLexicon adds headline vocabulary on the VADER valence scale (-4..4)
// that the stock lexicon leaves out or scores for everyday speech.
var marketLexicon = map[string]float64{
	"beat": 2.0, "beats": 2.0, "bullish": 2.6, "outperform": 2.0,
	"rally": 2.2, "rallies": 2.2, "rise": 1.5, "rises": 1.5,
	"soar": 2.6, "soars": 2.6, "surge": 2.6, "surges": 2.6,
	"jump": 1.8, "jumps": 1.8, "upgrade": 2.2, "upgraded": 2.2,
	"bearish": -2.6, "underperform": -2.0, "downgrade": -2.2, "downgraded": -2.2,
	"plunge": -2.8, "plunges": -2.8, "tumble": -2.4, "tumbles": -2.4,
	"slump": -2.4, "slumps": -2.4, "selloff": -2.4, "decline": -1.5,
	"declines": -1.5, "fall": -1.5, "falls": -1.5, "layoffs": -2.0,
	"lawsuit": -2.0, "recall": -1.5, "investigation": -1.5,
}

// neutralInMarkets are stock lexicon entries that carry no sentiment in
// financial headlines.
var neutralInMarkets = []string{"share", "shares", "interest"}

// NewHeadlineAnalyzer returns a VADER analyzer with the market vocabulary
// applied.
func NewHeadlineAnalyzer() *govader.SentimentIntensityAnalyzer {
	analyzer := govader.NewSentimentIntensityAnalyzer()
	for _, w := range neutralInMarkets {
		delete(analyzer.Lexicon, w)
	}
	for w, v := range marketLexicon {
		analyzer.Lexicon[w] = v
	}
	return analyzer
}

// VaderSentiment scores headlines with the VADER compound polarity.
type VaderSentiment struct {
	source   HeadlineSource
	analyzer *govader.SentimentIntensityAnalyzer
	limit    int
	logger   *logrus.Logger
}

// NewVaderSentiment creates a scorer reading up to limit headlines.
func NewVaderSentiment(source HeadlineSource, limit int, logger *logrus.Logger) *VaderSentiment {
	if limit <= 0 {
		limit = 5
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &VaderSentiment{
		source:   source,
		analyzer: NewHeadlineAnalyzer(),
		limit:    limit,
		logger:   logger,
	}
}

// ScoreText returns the compound polarity of text in [-1, 1].
func (s *VaderSentiment) ScoreText(text string) float64 {
	if text == "" {
		return 0
	}
	return clamp(s.analyzer.PolarityScores(text).Compound, -1, 1)
}

// Score averages the polarity of recent headlines. A failing source degrades
// to a neutral placeholder headline.
func (s *VaderSentiment) Score(ctx context.Context, instrument string) (float64, []SentimentReason, error) {
	var texts []string

	headlines, err := s.source.GetHeadlines(ctx, instrument, s.limit)
	switch {
	case err != nil:
		s.logger.WithError(err).WithField("instrument", instrument).Warn("Failed to fetch headlines, using placeholder")
		texts = []string{instrument + " market data available for analysis."}
	case len(headlines) == 0:
		texts = []string{instrument + " shows market activity with recent trading patterns."}
	default:
		for _, h := range headlines {
			texts = append(texts, h.Text())
		}
	}

	reasons := make([]SentimentReason, 0, len(texts))
	var sum float64
	for _, t := range texts {
		score := s.ScoreText(t)
		sum += score
		reasons = append(reasons, SentimentReason{Text: t, Score: score})
	}

	return clamp(sum/float64(len(texts)), -1, 1), reasons, nil
}
