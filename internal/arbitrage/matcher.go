package arbitrage

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"giftarb/internal/model"
)

// Fees are the costs applied to one buy-on-source, sell-on-target trade.
type Fees struct {
	SourceCommission decimal.Decimal
	TargetCommission decimal.Decimal
	TransferFee      decimal.Decimal
}

// Matcher pairs listings of the same gift variant across two marketplaces.
type Matcher struct {
	Fees   Fees
	Ranges []model.PriceRange
	Now    func() time.Time
}

// FindOpportunities returns every source listing that can be resold on the
// target at a profit of at least settings.MinProfit. The sell price for an
// identity is the cheapest target listing sharing it. The result is unordered.
func (m Matcher) FindOpportunities(source, target []model.Listing, settings model.Settings) []model.Opportunity {
	if len(source) == 0 || len(target) == 0 {
		return nil
	}

	floors := make(map[string]model.Listing, len(target))
	for _, t := range target {
		price := t.EffectivePrice()
		if !price.IsPositive() {
			continue
		}
		key := t.Key()
		if cur, ok := floors[key]; !ok || price.LessThan(cur.EffectivePrice()) {
			floors[key] = t
		}
	}

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	discovered := now()

	var out []model.Opportunity
	for _, s := range source {
		buy := s.EffectivePrice()
		if !buy.IsPositive() || buy.LessThan(settings.MinPrice) || buy.GreaterThan(settings.MaxPrice) {
			continue
		}
		t, ok := floors[s.Key()]
		if !ok {
			continue
		}
		sell := t.EffectivePrice()
		profit := ComputeProfit(buy, sell, m.Fees.SourceCommission, m.Fees.TargetCommission, m.Fees.TransferFee)
		if profit.LessThan(settings.MinProfit) {
			continue
		}
		out = append(out, model.Opportunity{
			Source:       s.Market,
			Target:       t.Market,
			ItemID:       s.ItemID,
			Name:         s.Name,
			Model:        s.Model,
			BuyPrice:     buy,
			SellPrice:    sell,
			Profit:       profit,
			PriceRange:   model.RangeFor(buy, m.ranges()),
			EndTime:      s.EndTime,
			DiscoveredAt: discovered,
		})
	}
	return out
}

func (m Matcher) ranges() []model.PriceRange {
	if len(m.Ranges) == 0 {
		return model.DefaultPriceRanges()
	}
	return m.Ranges
}

// SortByProfit orders opportunities by profit, highest first.
func SortByProfit(opps []model.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].Profit.GreaterThan(opps[j].Profit)
	})
}

// SortByEndTime orders opportunities by auction end, soonest first. Listings
// without an end time go last, ordered by profit.
func SortByEndTime(opps []model.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i].EndTime, opps[j].EndTime
		switch {
		case a != nil && b != nil:
			if !a.Equal(*b) {
				return a.Before(*b)
			}
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return opps[i].Profit.GreaterThan(opps[j].Profit)
	})
}

// FilterByRange keeps the opportunities tagged with label. An empty label keeps all.
func FilterByRange(opps []model.Opportunity, label string) []model.Opportunity {
	if label == "" {
		return opps
	}
	var out []model.Opportunity
	for _, o := range opps {
		if o.PriceRange == label {
			out = append(out, o)
		}
	}
	return out
}
