package interconnect

import (
	"time"

	"github.com/talgya/tradeworld/internal/assets"
	"github.com/talgya/tradeworld/internal/capital"
	"github.com/talgya/tradeworld/internal/economy"
	"github.com/talgya/tradeworld/internal/labor"
)

// WireDefaults installs the static graph between the standard markets.
// Every market it names must already be registered.
func WireDefaults(l *Layer) error {
	fuel := string(economy.Fuel)
	food := string(economy.Food)
	grain := string(economy.Grain)
	steel := string(economy.Steel)
	lumber := string(economy.Lumber)
	electronics := string(economy.Electronics)
	chemicals := string(economy.Chemicals)
	textiles := string(economy.Textiles)

	links := []Link{
		{fuel, assets.MarketID, InputOutput, 0.6, time.Hour},
		{fuel, chemicals, InputOutput, 0.3, 2 * time.Hour},
		{labor.MarketID, electronics, InputOutput, 0.2, 6 * time.Hour},
		{labor.MarketID, textiles, InputOutput, 0.2, 6 * time.Hour},
		{labor.MarketID, food, InputOutput, 0.2, 6 * time.Hour},
		{capital.MarketID, assets.MarketID, Financial, 0.4, 30 * time.Minute},
		{grain, food, InputOutput, 0.5, 3 * time.Hour},
		{food, grain, InputOutput, 0.5, 3 * time.Hour},
		{steel, assets.MarketID, InputOutput, 0.2, 4 * time.Hour},
		{lumber, steel, Substitute, 0.3, 2 * time.Hour},
		{steel, lumber, Substitute, 0.3, 2 * time.Hour},
		{electronics, chemicals, Complementary, 0.1, time.Hour},
	}
	for _, k := range links {
		if err := l.AddLink(k.Source, k.Target, k.Kind, k.Strength, k.Lag); err != nil {
			return err
		}
	}
	return nil
}
