package snapshot

import (
	"fmt"
	"strings"
)

// render_text's wire contract (spec.md §4.A / §8 property 1-2): the output
// is a pure function of the field values, contains exactly one RSI-band
// phrase, one trend phrase, one OI phrase, and one funding phrase. The
// momentum phrase ("momentum rising/falling/flat") is used twice when the
// 4h RSI series has enough history: once for the MACD series and once for
// the 4h RSI-14 series. Changing band thresholds or wording changes the
// embedder's input and therefore invalidates every vector already indexed
// — treat this file as part of the wire contract, not as free-form prose.

// rsiBand classifies an RSI value into one of the seven bands from
// spec.md §4.A.
func rsiBand(rsi float64) string {
	switch {
	case rsi >= 80:
		return "extremely overbought"
	case rsi >= 70:
		return "overbought"
	case rsi >= 60:
		return "bullish"
	case rsi >= 40:
		return "neutral"
	case rsi >= 30:
		return "bearish"
	case rsi >= 20:
		return "oversold"
	default:
		return "extremely oversold"
	}
}

func macdMomentumPhrase(macdSeries []float64) string {
	if len(macdSeries) < 2 {
		return "momentum insufficient history"
	}
	slope := OLSSlope(macdSeries)
	switch {
	case slope > 1e-9:
		return "momentum rising"
	case slope < -1e-9:
		return "momentum falling"
	default:
		return "momentum flat"
	}
}

func trendPhrase(emaRatio float64) string {
	switch {
	case emaRatio > 1.005:
		return "uptrend"
	case emaRatio < 0.995:
		return "downtrend"
	default:
		return "sideways"
	}
}

func oiPhrase(oiDeltaPct float64, placeholder bool) string {
	if placeholder {
		return "open interest unknown"
	}
	switch {
	case oiDeltaPct > 5:
		return "open interest rising significantly"
	case oiDeltaPct < -5:
		return "open interest dropping significantly"
	default:
		return "open interest stable"
	}
}

func fundingPhrase(funding float64, placeholder bool) string {
	if placeholder {
		return "funding unknown"
	}
	switch {
	case funding > 0.0005:
		return "funding highly positive"
	case funding < -0.0005:
		return "funding highly negative"
	default:
		return "funding neutral"
	}
}

// RenderText produces the deterministic natural-language rendering that is
// the embedder's input and therefore part of the indexed contract
// (spec.md §4.A). Series shorter than 10 samples still render, degrading
// to "insufficient history" markers (spec.md §8 boundary behavior).
func RenderText(s Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s at price %.2f. ", s.Symbol, s.Price)

	// Only RSI-7 drives the qualitative band phrase; RSI-14 is rendered as
	// a bare number alongside it so the text carries exactly one RSI-band
	// phrase (spec.md §8 property 2), not one per RSI field.
	fmt.Fprintf(&b, "RSI-7 is %.1f (%s), RSI-14 is %.1f. ",
		s.RSI7, rsiBand(s.RSI7), s.RSI14)

	fmt.Fprintf(&b, "MACD is %.2f, %s. ", s.MACD, macdMomentumPhrase(s.MACDVals))

	emaRatio := s.EMARatio20to50()
	fmt.Fprintf(&b, "4h EMA20/EMA50 ratio is %.4f, market is in an %s. ", emaRatio, trendPhrase(emaRatio))

	if len(s.RSI14_4hVals) < 5 {
		b.WriteString("4h RSI history insufficient history. ")
	} else {
		fmt.Fprintf(&b, "4h RSI-14 trend is %s. ", macdMomentumPhrase(s.RSI14_4hVals))
	}

	oiDelta := s.OIDeltaPct()
	fmt.Fprintf(&b, "Open interest changed %.2f%% vs 24h average, %s. ", oiDelta, oiPhrase(oiDelta, s.OIIsPlaceholder))

	fmt.Fprintf(&b, "Funding rate is %.5f, %s.", s.FundingRate, fundingPhrase(s.FundingRate, s.FundingIsPlaceholder))

	if s.PriceChange1h != nil {
		fmt.Fprintf(&b, " Price changed %.2f%% over the last hour.", *s.PriceChange1h)
	}
	if s.PriceChange4h != nil {
		fmt.Fprintf(&b, " Price changed %.2f%% over the last 4 hours.", *s.PriceChange4h)
	}

	if len(s.MidPrices) < 5 {
		b.WriteString(" Short-horizon price history insufficient history.")
	}

	return b.String()
}

// RenderTextSimple is the compact numeric rendering available per
// spec.md §4.A for callers that want raw numbers rather than qualitative
// bands. It is not the canonical index input.
func RenderTextSimple(s Snapshot) string {
	return fmt.Sprintf(
		"%s price=%.4f rsi7=%.2f rsi14=%.2f macd=%.4f ema_ratio=%.4f oi_delta_pct=%.2f funding=%.6f",
		s.Symbol, s.Price, s.RSI7, s.RSI14, s.MACD, s.EMARatio20to50(), s.OIDeltaPct(), s.FundingRate,
	)
}
