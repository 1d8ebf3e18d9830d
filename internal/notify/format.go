package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// FormatOpened renders a PositionOpened fact as a title and body.
func FormatOpened(f domain.PositionOpened) (string, string) {
	title := fmt.Sprintf("Opened %s (%s)", f.ID.BaseAsset, f.ID.Edge)
	var b strings.Builder
	fmt.Fprintf(&b, "Exchange: %s\n", f.ID.ExchangeIdentifier)
	fmt.Fprintf(&b, "Entry price: %s %s\n", f.InitialEntryPrice, f.QuoteAsset)
	fmt.Fprintf(&b, "Size: %s %s\n", f.InitialEntryPositionSize, f.ID.BaseAsset)
	fmt.Fprintf(&b, "Invested: %s %s", f.InitialQuoteInvested, f.QuoteAsset)
	if f.TradeID != "" {
		fmt.Fprintf(&b, "\nTrade: %s", f.TradeID)
	}
	return title, b.String()
}

// FormatClosed renders a PositionClosed fact including realized P&L.
func FormatClosed(f domain.PositionClosed) (string, string) {
	title := fmt.Sprintf("Closed %s (%s) %s%%", f.ID.BaseAsset, f.ID.Edge, signed(f.PercentageQuoteChange.StringFixed(2)))
	var b strings.Builder
	fmt.Fprintf(&b, "Exchange: %s\n", f.ID.ExchangeIdentifier)
	fmt.Fprintf(&b, "Entry: %s  Exit: %s %s\n", f.InitialEntryPrice, f.ExitPrice, f.QuoteAsset)
	fmt.Fprintf(&b, "Invested: %s  Returned: %s %s\n", f.QuoteInvested, f.QuoteReturned, f.QuoteAsset)
	fmt.Fprintf(&b, "P&L: %s %s\n", signed(f.AbsQuoteChange.String()), f.QuoteAsset)
	if f.OpenedAtMs > 0 && f.ClosedAtMs >= f.OpenedAtMs {
		held := time.Duration(f.ClosedAtMs-f.OpenedAtMs) * time.Millisecond
		fmt.Fprintf(&b, "Held: %s\n", held.Round(time.Second))
	}
	fmt.Fprintf(&b, "Fills: %d", f.OrderCount)
	return title, b.String()
}

func signed(s string) string {
	if strings.HasPrefix(s, "-") {
		return s
	}
	return "+" + s
}
