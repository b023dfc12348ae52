package tastytrade

import (
	"fmt"
	"math"
	"time"

	"github.com/optionloop/tastybot/internal/domain"
)

// OCCSymbol builds the 21-character OCC option symbol: root padded to six
// characters, yymmdd expiration, C or P, and the strike times 1000 as eight
// digits.
func OCCSymbol(root string, expiration time.Time, optType domain.OptionType, strike float64) string {
	return fmt.Sprintf("%-6s%s%s%08d",
		root,
		expiration.Format("060102"),
		string(optType),
		int(math.Round(strike*1000)),
	)
}
