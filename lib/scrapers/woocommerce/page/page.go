// Package page extracts availability and checkout signals from WooCommerce
// pages and AJAX fragments. Everything here is a pure function over text,
// callers own all I/O.
package page

import (
	"regexp"
	"strconv"
	"strings"

	"stockwatch-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// Signal is the stock verdict derived from the product container's
// class attribute.
type Signal int

const (
	SignalUnknown Signal = iota
	SignalInStock
	SignalOutOfStock
)

func (s Signal) String() string {
	switch s {
	case SignalInStock:
		return "instock"
	case SignalOutOfStock:
		return "outofstock"
	}
	return "unknown"
}

var productContainerIdRegex = regexp.MustCompile(`^product-\d+$`)

// StockSignal looks for the `<div id="product-N" class="...">` container
// WooCommerce themes render around a product and reads its class tokens.
// When both marker tokens somehow co-occur, out of stock wins.
func StockSignal(html string) Signal {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return SignalUnknown
	}

	signal := SignalUnknown
	doc.Find(`div[id^="product-"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !productContainerIdRegex.MatchString(sel.AttrOr("id", "")) {
			return true
		}

		inStock := false
		for _, class := range strings.Fields(sel.AttrOr("class", "")) {
			switch class {
			case "outofstock":
				signal = SignalOutOfStock
				return false
			case "instock":
				inStock = true
			}
		}
		if inStock {
			signal = SignalInStock
		}
		return false
	})

	return signal
}

// HasOutOfStockWrapper reports the secondary out-of-stock marker some
// themes emit instead of the container class.
func HasOutOfStockWrapper(html string) bool {
	return strings.Contains(html, "out_of_stock_wrapper")
}

// ProductID pulls the numeric product id out of the add-to-cart control.
func ProductID(html string) (int, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, false
	}

	value := doc.Find(`[name="add-to-cart"]`).First().AttrOr("value", "")
	id, err := strconv.Atoi(value)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

var reviewNonceRegex = regexp.MustCompile(`"update_order_review_nonce"\s*:\s*"([a-f0-9]+)"`)

// ReviewNonce extracts the update_order_review nonce embedded in the
// wc_checkout_params script blob on the checkout page.
func ReviewNonce(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		for _, script := range doc.Find("script").Nodes {
			groups := reviewNonceRegex.FindStringSubmatch(htmlutil.GetText(script))
			if len(groups) >= 2 {
				return groups[1], true
			}
		}
	}

	// some themes inline the params outside a plain <script> tag
	groups := reviewNonceRegex.FindStringSubmatch(html)
	if len(groups) >= 2 {
		return groups[1], true
	}
	return "", false
}

var checkoutNonceRegexes = []*regexp.Regexp{
	// the update_order_review response is JSON-escaped HTML, so the
	// escaped variant must be tried first
	regexp.MustCompile(`name=\\"woocommerce-process-checkout-nonce\\" value=\\"([a-f0-9]+)\\"`),
	regexp.MustCompile(`name="woocommerce-process-checkout-nonce" value="([a-f0-9]+)"`),
}

// CheckoutNonce extracts the process-checkout nonce from the
// update_order_review AJAX fragment.
func CheckoutNonce(fragment string) (string, bool) {
	for _, re := range checkoutNonceRegexes {
		groups := re.FindStringSubmatch(fragment)
		if len(groups) >= 2 {
			return groups[1], true
		}
	}
	return "", false
}

// DeliveryDateOption is one entry from the delivery scheduling API.
// Date is in the wire M-D-YYYY format; Availability is a count or
// the literal "Unlimited".
type DeliveryDateOption struct {
	Date         string
	Availability string
}

var deliveryDateRegex = regexp.MustCompile(`'(\d+-\d+-\d+)>Available Deliveries: (\d+|Unlimited)'`)

// DeliveryDateOptions parses the orddd_update_delivery_session response.
// Entries are returned in response order, not sorted.
func DeliveryDateOptions(fragment string) []DeliveryDateOption {
	matches := deliveryDateRegex.FindAllStringSubmatch(fragment, -1)
	if len(matches) == 0 {
		return nil
	}

	options := make([]DeliveryDateOption, 0, len(matches))
	for _, m := range matches {
		options = append(options, DeliveryDateOption{
			Date:         m[1],
			Availability: m[2],
		})
	}
	return options
}
