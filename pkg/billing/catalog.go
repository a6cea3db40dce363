package billing

import (
	"fmt"
	"strings"
)

// Mode separates the provider's live and test price catalogs.
type Mode string

const (
	ModeLive Mode = "live"
	ModeTest Mode = "test"
)

// scopeSuffixLen is how many trailing characters of a catalog price id identify it
// when matching price ids carried by provider events.
const scopeSuffixLen = 8

// CatalogEntry binds one provider price id to a plan tier.
type CatalogEntry struct {
	PriceID  string
	Plan     Plan
	Interval Interval
	Mode     Mode
}

// PlanFragment maps a price id substring to a plan. Fragments cover prices that
// predate the explicit catalog table.
type PlanFragment struct {
	Fragment string
	Plan     Plan
}

// Catalog is the application's own product catalog. It decides which provider
// events belong to this application and which plan a price id grants.
type Catalog struct {
	entries   []CatalogEntry
	byPrice   map[string]CatalogEntry
	fragments []PlanFragment
}

// NewCatalog builds a catalog from explicit entries and optional fallback fragments.
// Entries with an empty price id are skipped.
func NewCatalog(entries []CatalogEntry, fragments []PlanFragment) *Catalog {
	c := &Catalog{
		byPrice: make(map[string]CatalogEntry, len(entries)),
	}
	for _, e := range entries {
		e.PriceID = strings.TrimSpace(e.PriceID)
		if e.PriceID == "" {
			continue
		}
		c.entries = append(c.entries, e)
		c.byPrice[e.PriceID] = e
	}
	for _, f := range fragments {
		if f.Fragment != "" {
			c.fragments = append(c.fragments, f)
		}
	}
	return c
}

// DefaultFragments are the price id fragments of the first test-mode products.
func DefaultFragments() []PlanFragment {
	return []PlanFragment{
		{Fragment: "Sjvyj", Plan: PlanBasic},
		{Fragment: "Sjvyl", Plan: PlanPro},
		{Fragment: "Sjvyn", Plan: PlanEnterprise},
	}
}

// DefaultCatalog returns the live and test prices the application was launched with.
func DefaultCatalog() *Catalog {
	return NewCatalog([]CatalogEntry{
		{PriceID: "price_1SjyGc86MNjhkH0a6Jv7jH5r", Plan: PlanBasic, Interval: IntervalMonthly, Mode: ModeLive},
		{PriceID: "price_1SjyGf86MNjhkH0aOzA6kwVT", Plan: PlanBasic, Interval: IntervalYearly, Mode: ModeLive},
		{PriceID: "price_1SjyGj86MNjhkH0aRd13R01S", Plan: PlanPro, Interval: IntervalMonthly, Mode: ModeLive},
		{PriceID: "price_1SjyGm86MNjhkH0agZWkyvAB", Plan: PlanPro, Interval: IntervalYearly, Mode: ModeLive},
		{PriceID: "price_1SjyGo86MNjhkH0aSJ6j7tpa", Plan: PlanEnterprise, Interval: IntervalMonthly, Mode: ModeLive},
		{PriceID: "price_1SjyGs86MNjhkH0aoAD8RwqP", Plan: PlanEnterprise, Interval: IntervalYearly, Mode: ModeLive},
		{PriceID: "price_1Sjvyj86MNjhkH0aYaxu1M8A", Plan: PlanBasic, Interval: IntervalMonthly, Mode: ModeTest},
		{PriceID: "price_1Sjvyj86MNjhkH0afkLmyIe6", Plan: PlanBasic, Interval: IntervalYearly, Mode: ModeTest},
		{PriceID: "price_1Sjvyl86MNjhkH0aJSPO6Zkl", Plan: PlanPro, Interval: IntervalMonthly, Mode: ModeTest},
		{PriceID: "price_1Sjvyl86MNjhkH0a9F1rmQzo", Plan: PlanPro, Interval: IntervalYearly, Mode: ModeTest},
		{PriceID: "price_1Sjvyn86MNjhkH0aKIvNQwrA", Plan: PlanEnterprise, Interval: IntervalMonthly, Mode: ModeTest},
		{PriceID: "price_1Sjvyn86MNjhkH0ailX8YoXK", Plan: PlanEnterprise, Interval: IntervalYearly, Mode: ModeTest},
	}, DefaultFragments())
}

// Entries returns a copy of the catalog entries.
func (c *Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// lookup resolves a price id to a catalog entry by exact id, then by the
// trailing characters of a catalog id.
func (c *Catalog) lookup(priceID string) (CatalogEntry, bool) {
	if e, ok := c.byPrice[priceID]; ok {
		return e, true
	}
	for _, e := range c.entries {
		suffix := e.PriceID
		if len(suffix) > scopeSuffixLen {
			suffix = suffix[len(suffix)-scopeSuffixLen:]
		}
		if strings.HasSuffix(priceID, suffix) {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// InScope reports whether a price id belongs to this application's catalog.
func (c *Catalog) InScope(priceID string) bool {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return false
	}
	_, ok := c.lookup(priceID)
	return ok
}

// PlanFor maps a price id to a plan tier. Unknown prices return PlanFree and false.
func (c *Catalog) PlanFor(priceID string) (Plan, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return PlanFree, false
	}
	if e, ok := c.lookup(priceID); ok {
		return e.Plan, true
	}
	for _, f := range c.fragments {
		if strings.Contains(priceID, f.Fragment) {
			return f.Plan, true
		}
	}
	return PlanFree, false
}

// PriceFor returns the price id selling plan at the given interval in mode.
func (c *Catalog) PriceFor(plan Plan, interval Interval, mode Mode) (string, error) {
	for _, e := range c.entries {
		if e.Plan == plan && e.Interval == interval && e.Mode == mode {
			return e.PriceID, nil
		}
	}
	return "", fmt.Errorf("%w: %s %s (%s)", ErrPriceNotConfigured, plan, interval, mode)
}

// ModeForSecretKey picks the catalog matching a provider secret key: test keys
// use test prices, everything else uses live prices.
func ModeForSecretKey(secretKey string) Mode {
	if strings.HasPrefix(strings.TrimSpace(secretKey), "sk_test_") {
		return ModeTest
	}
	return ModeLive
}

func toLowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
