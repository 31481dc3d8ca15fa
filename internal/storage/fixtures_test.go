package storage

import (
	"io"
	"log/slog"
	"time"

	"github.com/correlator-io/retail-analytics/internal/retail"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

// sampleFacts spans Dec 2010 to Mar 2011 with no February orders, so March
// retention has no previous month. Revenues are distinct per product and country
// to keep orderings unambiguous across stores.
func sampleFacts() []retail.Transaction {
	return []retail.Transaction{
		retail.NewTransaction("536365", "85123A", "WHITE HANGING HEART", 6, at(2010, 12, 1, 8, 26), 2.55, 17850, "United Kingdom"),
		retail.NewTransaction("536365", "71053", "WHITE METAL LANTERN", 6, at(2010, 12, 1, 8, 26), 3.39, 17850, "United Kingdom"),
		retail.NewTransaction("536370", "22728", "ALARM CLOCK BAKELIKE PINK", 24, at(2010, 12, 1, 8, 45), 3.75, 12583, "France"),
		retail.NewTransaction("536371", "22086", "PAPER CHAIN KIT", 80, at(2010, 12, 31, 23, 59), 2.55, 13748, "United Kingdom"),
		retail.NewTransaction("539993", "22386", "JUMBO BAG PINK POLKADOT", 10, at(2011, 1, 4, 10, 0), 1.95, 13313, "United Kingdom"),
		retail.NewTransaction("540001", "22728", "ALARM CLOCK BAKELIKE PINK", 4, at(2011, 1, 4, 11, 0), 3.75, 12583, "France"),
		retail.NewTransaction("540002", "85123A", "WHITE HANGING HEART", 2, at(2011, 1, 31, 23, 0), 2.55, 17850, "United Kingdom"),
		retail.NewTransaction("548000", "21731", "RED TOADSTOOL LED NIGHT LIGHT", 12, at(2011, 3, 1, 9, 0), 1.65, 12662, "Germany"),
		retail.NewTransaction("548001", "22086", "PAPER CHAIN KIT", 1, at(2011, 3, 2, 9, 0), 2.95, 17850, "United Kingdom"),
	}
}

func rawFor(facts []retail.Transaction) []retail.RawRecord {
	raw := make([]retail.RawRecord, len(facts))

	for i, t := range facts {
		raw[i] = t.Raw()
		raw[i].SourceRow = int64(i + 2)
	}

	return raw
}
