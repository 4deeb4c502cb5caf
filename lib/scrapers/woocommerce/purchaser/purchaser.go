// Package purchaser drives the WooCommerce checkout handshake. All calls
// share one cookie-bearing client: the checkout page seeds the session,
// update_order_review trades the review nonce for a checkout nonce, and the
// final checkout call spends it. None of the steps are retryable, a failure
// anywhere aborts the whole attempt.
package purchaser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stockwatch-backend/lib/restyutil"
	"stockwatch-backend/lib/scrapers/woocommerce/page"
	"stockwatch-backend/lib/timezone"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/woocommerce/purchaser")

// PurchaseError is fatal to the purchase run, checkout cannot be resumed
// without re-deriving nonces.
type PurchaseError struct {
	Reason string
	Err    error
}

func (e *PurchaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *PurchaseError) Unwrap() error {
	return e.Err
}

const (
	defaultShippingMethod = "local_pickup:8"
	gatewaySinopacCredit  = "sinopac-self-hosted-credit"

	wireDateFormat    = "1-2-2006"
	payloadDateFormat = "2006-01-02"
)

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// phrase the storefront's locale uses for "out of stock" in cart
	// responses, checked alongside the English ones
	LocalePhrase string
}

// Product identifies what to buy, keyed by (product id, variation id).
type Product struct {
	// absolute URL or a slug joined against the base URL
	URL         string
	ProductID   int
	VariationID int
	Quantity    int
	Attributes  map[string]string
}

type BillingInfo struct {
	FirstName          string
	LastName           string
	Company            string
	Country            string
	Address1           string
	City               string
	Postcode           string
	Phone              string
	Email              string
	CarruerType        string
	InvoiceType        string
	CustomerIdentifier string
	LoveCode           string
	CarruerNum         string
}

type ShippingInfo struct {
	FirstName string
	LastName  string
	Company   string
	Country   string
	Address1  string
	Address2  string
	City      string
	State     string
	Postcode  string
	Phone     string
	Method    string
}

type PaymentInfo struct {
	Method      string
	CardNumber  string
	ExpiryMonth string
	ExpiryYear  string
	CVV         string
}

type Purchaser struct {
	http *resty.Client
	opts Options
	now  func() time.Time
}

func New(opts Options) (*Purchaser, error) {
	if opts.BaseURL == "" {
		return nil, &PurchaseError{Reason: "base URL is required"}
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, &PurchaseError{Reason: "failed to create cookie jar", Err: err}
	}
	client.SetCookieJar(jar)
	client.SetTimeout(opts.Timeout)
	client.SetHeaders(map[string]string{
		"User-Agent":      opts.UserAgent,
		"Accept":          "application/json, text/javascript, */*; q=0.01",
		"Accept-Language": "zh-TW,zh;q=0.8,en-US;q=0.5,en;q=0.3",
	})
	restyutil.InstrumentClient(client, tracer, nil)

	return &Purchaser{
		http: client,
		opts: opts,
		now:  timezone.Now,
	}, nil
}

// EnableExchangeDump mirrors every HTTP exchange to the given output.
// Meant for verbose runs, the nonce handshake is painful to debug blind.
func (p *Purchaser) EnableExchangeDump(output restyutil.InstrumentOutput) {
	restyutil.InstrumentClient(p.http, tracer, output)
}

// AddToCart posts the add-to-cart form. A false return means the store
// answered but refused (typically out of stock), an error means the
// request itself failed.
func (p *Purchaser) AddToCart(ctx context.Context, product Product) (bool, error) {
	ctx, span := tracer.Start(ctx, "purchaser:AddToCart")
	defer span.End()

	slog.InfoContext(ctx, "adding product to cart",
		"product_id", product.ProductID,
		"variation_id", product.VariationID,
		"quantity", product.Quantity,
	)

	form := map[string]string{
		"quantity":     strconv.Itoa(product.Quantity),
		"add-to-cart":  strconv.Itoa(product.ProductID),
		"product_id":   strconv.Itoa(product.ProductID),
		"variation_id": strconv.Itoa(product.VariationID),
	}
	for key, value := range product.Attributes {
		form["attribute_"+key] = value
	}

	res, err := p.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(p.productURL(product.URL))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "add to cart request failed")
		return false, &PurchaseError{Reason: "failed to add to cart", Err: err}
	}
	if res.IsError() {
		span.SetStatus(codes.Error, "add to cart returned error status")
		return false, &PurchaseError{Reason: fmt.Sprintf("add to cart returned status %d", res.StatusCode())}
	}

	body := strings.ToLower(res.String())
	refusals := []string{"cannot add", "out of stock"}
	if p.opts.LocalePhrase != "" {
		refusals = append(refusals, strings.ToLower(p.opts.LocalePhrase))
	}
	for _, phrase := range refusals {
		if strings.Contains(body, phrase) {
			slog.WarnContext(ctx, "store refused add to cart", "phrase", phrase)
			return false, nil
		}
	}

	return true, nil
}

// Checkout runs the three-call handshake and returns the order id.
func (p *Purchaser) Checkout(ctx context.Context, billing BillingInfo, shipping ShippingInfo, payment PaymentInfo) (string, error) {
	ctx, span := tracer.Start(ctx, "purchaser:Checkout")
	defer span.End()

	// step 1: seed cookies and pick up the review nonce
	res, err := p.http.R().
		SetContext(ctx).
		Get("/checkout/")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch checkout page")
		return "", &PurchaseError{Reason: "failed to fetch checkout page", Err: err}
	}
	if res.IsError() {
		span.SetStatus(codes.Error, "checkout page returned error status")
		return "", &PurchaseError{Reason: fmt.Sprintf("checkout page returned status %d", res.StatusCode())}
	}
	reviewNonce, ok := page.ReviewNonce(res.String())
	if !ok {
		span.SetStatus(codes.Error, "review nonce missing")
		return "", &PurchaseError{Reason: "failed to extract update_order_review nonce from checkout page"}
	}
	slog.DebugContext(ctx, "extracted review nonce", "prefix", noncePrefix(reviewNonce))

	deliveryDate, err := p.EarliestDeliveryDate(ctx, shipping.Method)
	if err != nil {
		return "", err
	}
	payload := buildCheckoutPayload(p.opts, billing, shipping, payment, deliveryDate)

	// step 2: trade the review nonce for a checkout nonce
	reviewForm := url.Values{}
	reviewForm.Set("security", reviewNonce)
	reviewForm.Set("payment_method", orDefault(payment.Method, gatewaySinopacCredit))
	reviewForm.Set("country", orDefault(billing.Country, "TW"))
	reviewForm.Set("s_country", orDefault(shipping.Country, "TW"))
	reviewForm.Set("has_full_address", "false")
	reviewForm.Set("post_data", payload.Encode())
	reviewForm.Set("shipping_method[0]", orDefault(shipping.Method, defaultShippingMethod))

	res, err = p.postAjax(ctx, "update_order_review", reviewForm)
	if err != nil {
		span.SetStatus(codes.Error, "update_order_review failed")
		return "", &PurchaseError{Reason: "update_order_review request failed", Err: err}
	}
	checkoutNonce, ok := page.CheckoutNonce(res.String())
	if !ok {
		span.SetStatus(codes.Error, "checkout nonce missing")
		return "", &PurchaseError{Reason: "failed to extract checkout nonce from update_order_review response"}
	}
	slog.DebugContext(ctx, "extracted checkout nonce", "prefix", noncePrefix(checkoutNonce))

	// step 3: spend the checkout nonce
	payload.Set("woocommerce-process-checkout-nonce", checkoutNonce)
	payload.Set("_wp_http_referer", "/?wc-ajax=update_order_review")

	res, err = p.postAjax(ctx, "checkout", payload)
	if err != nil {
		span.SetStatus(codes.Error, "checkout submission failed")
		return "", &PurchaseError{Reason: "checkout request failed", Err: err}
	}

	var result struct {
		Result   string      `json:"result"`
		OrderID  json.Number `json:"order_id"`
		Messages string      `json:"messages"`
	}
	if err := json.Unmarshal(res.Body(), &result); err != nil {
		span.SetStatus(codes.Error, "unparseable checkout response")
		return "", &PurchaseError{Reason: "failed to parse checkout response", Err: err}
	}
	if result.Result != "success" {
		span.SetStatus(codes.Error, "checkout rejected")
		return "", &PurchaseError{Reason: fmt.Sprintf("checkout failed: %s", orDefault(result.Messages, "unknown error"))}
	}

	orderID := orDefault(result.OrderID.String(), "unknown")
	slog.InfoContext(ctx, "checkout successful", "order_id", orderID)
	return orderID, nil
}

// EarliestDeliveryDate asks the delivery scheduling endpoint for open
// dates and returns the first one strictly after today, normalized to
// YYYY-MM-DD for the checkout payload.
func (p *Purchaser) EarliestDeliveryDate(ctx context.Context, shippingMethod string) (string, error) {
	ctx, span := tracer.Start(ctx, "purchaser:EarliestDeliveryDate")
	defer span.End()

	form := url.Values{}
	form.Set("shipping_method", orDefault(shippingMethod, defaultShippingMethod))
	form.Set("settings_based_on", "category_shipping")
	form.Set("setting_ids[]", "11")
	form.Set("called_from", "")
	form.Set("vendor_id", "0")

	res, err := p.postAjax(ctx, "orddd_update_delivery_session", form)
	if err != nil {
		span.SetStatus(codes.Error, "delivery session request failed")
		return "", &PurchaseError{Reason: "failed to fetch delivery dates", Err: err}
	}

	options := page.DeliveryDateOptions(res.String())
	if len(options) == 0 {
		span.SetStatus(codes.Error, "no delivery dates in response")
		return "", &PurchaseError{Reason: "no delivery dates found in response"}
	}

	today := timezone.Midnight(p.now())
	for _, option := range options {
		date, err := time.ParseInLocation(wireDateFormat, option.Date, timezone.Location)
		if err != nil {
			slog.WarnContext(ctx, "unparseable delivery date", "date", option.Date, "err", err)
			continue
		}
		if date.After(today) {
			normalized := date.Format(payloadDateFormat)
			slog.InfoContext(ctx, "earliest delivery date",
				"date", normalized, "availability", option.Availability)
			return normalized, nil
		}
	}

	span.SetStatus(codes.Error, "no future delivery date")
	return "", &PurchaseError{Reason: "no delivery dates available after today"}
}

func (p *Purchaser) postAjax(ctx context.Context, action string, form url.Values) (*resty.Response, error) {
	res, err := p.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8").
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetBody(form.Encode()).
		Post("/?wc-ajax=" + action)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("wc-ajax=%s returned status %d", action, res.StatusCode())
	}
	return res, nil
}

func (p *Purchaser) productURL(productURL string) string {
	if strings.HasPrefix(productURL, "http") {
		return productURL
	}
	return p.opts.BaseURL + "/" + strings.TrimLeft(productURL, "/")
}

// buildCheckoutPayload flattens billing/shipping/payment into the form
// WooCommerce expects. Gateway-specific fields ride along only for the
// gateway that consumes them.
func buildCheckoutPayload(opts Options, billing BillingInfo, shipping ShippingInfo, payment PaymentInfo, deliveryDate string) url.Values {
	payload := url.Values{}

	// order attribution boilerplate the theme's JS would send
	payload.Set("wc_order_attribution_source_type", "typein")
	payload.Set("wc_order_attribution_referrer", "(none)")
	payload.Set("wc_order_attribution_utm_campaign", "(none)")
	payload.Set("wc_order_attribution_utm_source", "(direct)")
	payload.Set("wc_order_attribution_utm_medium", "(none)")
	payload.Set("wc_order_attribution_utm_content", "(none)")
	payload.Set("wc_order_attribution_utm_id", "(none)")
	payload.Set("wc_order_attribution_utm_term", "(none)")
	payload.Set("wc_order_attribution_utm_source_platform", "(none)")
	payload.Set("wc_order_attribution_utm_creative_format", "(none)")
	payload.Set("wc_order_attribution_utm_marketing_tactic", "(none)")
	payload.Set("wc_order_attribution_session_entry", opts.BaseURL)
	payload.Set("wc_order_attribution_session_pages", "5")
	payload.Set("wc_order_attribution_session_count", "1")
	payload.Set("wc_order_attribution_user_agent", opts.UserAgent)

	payload.Set("billing_first_name", billing.FirstName)
	payload.Set("billing_last_name", billing.LastName)
	payload.Set("billing_company", billing.Company)
	payload.Set("billing_country", orDefault(billing.Country, "TW"))
	payload.Set("billing_address_1", orDefault(billing.Address1, "none"))
	payload.Set("billing_city", orDefault(billing.City, "none"))
	payload.Set("billing_postcode", orDefault(billing.Postcode, "none"))
	payload.Set("billing_phone", billing.Phone)
	payload.Set("billing_email", billing.Email)
	payload.Set("billing_carruer_type", orDefault(billing.CarruerType, "1"))
	payload.Set("billing_invoice_type", orDefault(billing.InvoiceType, "p"))
	payload.Set("billing_customer_identifier", billing.CustomerIdentifier)
	payload.Set("billing_love_code", billing.LoveCode)
	payload.Set("billing_carruer_num", billing.CarruerNum)

	shippingMethod := orDefault(shipping.Method, defaultShippingMethod)
	payload.Set("shipping_first_name", shipping.FirstName)
	payload.Set("shipping_last_name", shipping.LastName)
	payload.Set("shipping_company", shipping.Company)
	payload.Set("shipping_country", orDefault(shipping.Country, "TW"))
	payload.Set("shipping_address_1", shipping.Address1)
	payload.Set("shipping_address_2", shipping.Address2)
	payload.Set("shipping_city", shipping.City)
	payload.Set("shipping_state", shipping.State)
	payload.Set("shipping_postcode", shipping.Postcode)
	payload.Set("shipping_phone", shipping.Phone)
	payload.Set("shipping_method[0]", shippingMethod)
	payload.Set("e_deliverydate_0", deliveryDate)

	method := orDefault(payment.Method, gatewaySinopacCredit)
	payload.Set("payment_method", method)
	if method == gatewaySinopacCredit {
		payload.Set("as_sinopac_card_number", payment.CardNumber)
		payload.Set("as_sinopac_expiry_month", payment.ExpiryMonth)
		payload.Set("as_sinopac_expiry_year", payment.ExpiryYear)
		payload.Set("as_sinopac_card_cvv", payment.CVV)
	}

	return payload
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// nonces are secrets-ish, only log a prefix
func noncePrefix(nonce string) string {
	if len(nonce) <= 10 {
		return nonce
	}
	return nonce[:10]
}
