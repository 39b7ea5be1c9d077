package level

// Level keys of the default ladder.
const (
	Yellow = "yellow"
	Orange = "orange"
	Green  = "green"
	Blue   = "blue"
	Brown  = "brown"
	Black  = "black"
	Red    = "red"
)

// Capability tokens gated by the default ladder.
const (
	CapPortfolioView      = "portfolio.view"
	CapMarketQuotes       = "market.quotes"
	CapMarketTrade        = "market.trade"
	CapReportsMonthly     = "reports.monthly"
	CapMarketMargin       = "market.margin"
	CapReportsTax         = "reports.tax"
	CapStrategyBacktest   = "strategy.backtest"
	CapStrategyAutomation = "strategy.automation"
)

var defaultTable = MustNewTable(ladder()...)

// Default returns the shared FINE U ladder.
func Default() *Table {
	return defaultTable
}

func ladder() []Definition {
	unlocks := [][]string{
		{CapPortfolioView, CapMarketQuotes},
		{CapMarketTrade},
		{CapReportsMonthly},
		{CapMarketMargin},
		{CapReportsTax},
		{CapStrategyBacktest},
		{CapStrategyAutomation},
	}

	defs := []Definition{
		{Key: Yellow, DisplayName: "YELLOW", Floor: 0, Ceiling: 3000, Order: 1, Class: "level-yellow"},
		{Key: Orange, DisplayName: "ORANGE", Floor: 3000, Ceiling: 6000, Order: 2, Class: "level-orange"},
		{Key: Green, DisplayName: "GREEN", Floor: 6000, Ceiling: 10000, Order: 3, Class: "level-green"},
		{Key: Blue, DisplayName: "BLUE", Floor: 10000, Ceiling: 15000, Order: 4, Class: "level-blue"},
		{Key: Brown, DisplayName: "BROWN", Floor: 15000, Ceiling: 25000, Order: 5, Class: "level-brown"},
		{Key: Black, DisplayName: "BLACK", Floor: 25000, Ceiling: 50000, Order: 6, Class: "level-black"},
		{Key: Red, DisplayName: "RED", Floor: 50000, Ceiling: Open, Order: 7, Class: "level-red"},
	}

	var acc []string
	for i := range defs {
		acc = append(acc, unlocks[i]...)
		defs[i].Capabilities = append([]string(nil), acc...)
	}
	return defs
}
