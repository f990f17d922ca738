package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"PortfolioLens/internal/model"
)

// DefaultFundBaseURL hosts the HTML fund quote pages.
const DefaultFundBaseURL = "https://www.boursorama.com"

var fundPattern = regexp.MustCompile(`^0P[0-9A-Z]{8}\.F$`)

// IsFund reports whether symbol is a fund identifier (0P-prefixed id on the
// fund market). Such symbols bypass the cascade.
func IsFund(symbol string) bool {
	return fundPattern.MatchString(strings.ToUpper(symbol))
}

// Selector rules for the fund page, tried in order.
var (
	fundLastSelectors      = []string{"[data-ist-last]"}
	fundVariationSelectors = []string{"[data-ist-variation]"}
	fundNameSelectors      = []string{"[data-ist-name]", "h1"}
)

// Fund scrapes a fund quote page. The page publishes the last price and the
// day's variation only, so the previous close is reconstructed as
// current / (1 + pct/100). That reconstruction inherits the rounding of the
// published percentage (two decimals), which bounds its precision.
type Fund struct {
	baseURL string
	http    Getter
}

// NewFund creates the fund page adapter.
func NewFund(getter Getter, baseURL string) *Fund {
	if baseURL == "" {
		baseURL = DefaultFundBaseURL
	}
	return &Fund{baseURL: strings.TrimRight(baseURL, "/"), http: getter}
}

func (f *Fund) Provider() model.Provider { return model.ProviderFund }

func (f *Fund) Candidates(symbol string) []string {
	if !IsFund(symbol) {
		return nil
	}
	base, _ := SplitSuffix(strings.ToUpper(symbol))
	return []string{base}
}

func (f *Fund) Quote(ctx context.Context, id string) (model.PriceEntry, error) {
	u := fmt.Sprintf("%s/bourse/opcvm/cours/%s/", f.baseURL, url.PathEscape(id))
	body, err := f.http.Get(ctx, u)
	if err != nil {
		return model.PriceEntry{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.PriceEntry{}, fmt.Errorf("fund page %s: %w", id, err)
	}

	last, ok := attrFloat(doc, fundLastSelectors, "data-ist-last")
	if !ok || last == 0 {
		return model.PriceEntry{}, fmt.Errorf("fund page %s: %w", id, ErrNoData)
	}
	entry := model.PriceEntry{Current: last}
	if name, ok := selectionText(doc, fundNameSelectors, "data-ist-name"); ok {
		entry.LongName = &name
	}
	if pct, ok := attrFloat(doc, fundVariationSelectors, "data-ist-variation"); ok {
		entry = entry.WithPreviousClose(model.Float(DerivePreviousClose(last, pct)))
	}
	return entry, nil
}

// DerivePreviousClose inverts a day-over-day percentage.
func DerivePreviousClose(current, pct float64) float64 {
	if pct <= -100 {
		return 0
	}
	return current / (1 + pct/100)
}

// attrFloat reads the first matching element, preferring the attribute value
// and falling back to the element text.
func attrFloat(doc *goquery.Document, selectors []string, attr string) (float64, bool) {
	s, ok := selectionText(doc, selectors, attr)
	if !ok {
		return 0, false
	}
	return parseLocaleFloat(s)
}

func selectionText(doc *goquery.Document, selectors []string, attr string) (string, bool) {
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if v := strings.TrimSpace(node.AttrOr(attr, "")); v != "" {
			return v, true
		}
		if v := strings.TrimSpace(node.Text()); v != "" {
			return v, true
		}
	}
	return "", false
}
