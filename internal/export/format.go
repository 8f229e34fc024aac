package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/fisler/internal/core"
)

// Turkey has been on UTC+3 all year since 2016.
var turkeyTime = time.FixedZone("TRT", 3*60*60)

// TurkeyTime returns the zone receipts are displayed in.
func TurkeyTime() *time.Location { return turkeyTime }

var trMonths = [...]string{
	"Ocak", "Şubat", "Mart", "Nisan", "Mayıs", "Haziran",
	"Temmuz", "Ağustos", "Eylül", "Ekim", "Kasım", "Aralık",
}

// FormatDate renders t as "3 Ocak 2025 14:05" in loc.
func FormatDate(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return fmt.Sprintf("%d %s %d %02d:%02d", t.Day(), trMonths[t.Month()-1], t.Year(), t.Hour(), t.Minute())
}

// FormatTRY renders an amount the tr-TR way: "₺1.234,56".
func FormatTRY(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	fixed := d.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + "₺" + b.String() + "," + frac
}

// ItemSummary lists items as "name x quantity", one per line.
func ItemSummary(items []core.LineItem) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = it.Name + " x " + it.Quantity.String()
	}
	return strings.Join(lines, "\n")
}
