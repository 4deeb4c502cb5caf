package purchaser

import (
	"context"
	"net/url"
	"testing"
	"time"

	"stockwatch-backend/lib/timezone"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://store.example.com"

func newTestPurchaser(t *testing.T) *Purchaser {
	t.Helper()
	p, err := New(Options{
		BaseURL:      baseURL,
		UserAgent:    "stockwatch-test",
		LocalePhrase: "缺貨",
	})
	require.NoError(t, err)
	httpmock.ActivateNonDefault(p.http.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return p
}

const checkoutPageHTML = `<html><head><script type="text/javascript">
var wc_checkout_params = {"ajax_url":"\/wp-admin\/admin-ajax.php","update_order_review_nonce":"ab12cd34ef"};
</script></head><body>checkout</body></html>`

const deliveryFragment = `jQuery( "#orddd_available_dates" ).val( "'3-5-2024>Available Deliveries: 30','3-6-2024>Available Deliveries: Unlimited'" );`

const reviewFragment = `{"fragments":{".payment":"name=\"woocommerce-process-checkout-nonce\" value=\"0123abcd45\""}}`

func taipeiDate(year int, month time.Month, day int) func() time.Time {
	return func() time.Time {
		return time.Date(year, month, day, 15, 0, 0, 0, timezone.Location)
	}
}

func TestAddToCartSuccess(t *testing.T) {
	p := newTestPurchaser(t)
	httpmock.RegisterResponder("POST", baseURL+"/product/strawberry-daifuku/",
		httpmock.NewStringResponder(200, `<div class="woocommerce-message">added to cart</div>`))

	ok, err := p.AddToCart(context.Background(), Product{
		URL:         "/product/strawberry-daifuku/",
		ProductID:   4093,
		VariationID: 4095,
		Quantity:    2,
		Attributes:  map[string]string{"pa_size": "large"},
	})
	require.NoError(t, err)
	require.True(t, ok)

	calls := httpmock.GetCallCountInfo()
	require.Equal(t, 1, calls["POST "+baseURL+"/product/strawberry-daifuku/"])
}

func TestAddToCartRefused(t *testing.T) {
	p := newTestPurchaser(t)
	httpmock.RegisterResponder("POST", baseURL+"/product/strawberry-daifuku/",
		httpmock.NewStringResponder(200, `<ul class="woocommerce-error"><li>You cannot add that amount to the cart.</li></ul>`))

	ok, err := p.AddToCart(context.Background(), Product{
		URL:       baseURL + "/product/strawberry-daifuku/",
		ProductID: 4093,
		Quantity:  1,
	})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddToCartLocaleRefusal(t *testing.T) {
	p := newTestPurchaser(t)
	httpmock.RegisterResponder("POST", baseURL+"/product/strawberry-daifuku/",
		httpmock.NewStringResponder(200, `<div class="notice">此商品目前缺貨中</div>`))

	ok, err := p.AddToCart(context.Background(), Product{
		URL:       "product/strawberry-daifuku/",
		ProductID: 4093,
		Quantity:  1,
	})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckoutHappyPath(t *testing.T) {
	p := newTestPurchaser(t)
	p.now = taipeiDate(2024, time.March, 4)

	httpmock.RegisterResponder("GET", baseURL+"/checkout/",
		httpmock.NewStringResponder(200, checkoutPageHTML))
	httpmock.RegisterResponder("POST", baseURL+"/?wc-ajax=orddd_update_delivery_session",
		httpmock.NewStringResponder(200, deliveryFragment))
	httpmock.RegisterResponder("POST", baseURL+"/?wc-ajax=update_order_review",
		httpmock.NewStringResponder(200, reviewFragment))
	httpmock.RegisterResponder("POST", baseURL+"/?wc-ajax=checkout",
		httpmock.NewStringResponder(200, `{"result":"success","order_id":12345}`))

	orderID, err := p.Checkout(context.Background(),
		BillingInfo{FirstName: "Mei", LastName: "Lin", Phone: "0912345678", Email: "mei@example.com"},
		ShippingInfo{FirstName: "Mei", LastName: "Lin"},
		PaymentInfo{CardNumber: "4111111111111111", ExpiryMonth: "12", ExpiryYear: "27", CVV: "123"},
	)
	require.NoError(t, err)
	require.Equal(t, "12345", orderID)

	calls := httpmock.GetCallCountInfo()
	require.Equal(t, 1, calls["GET "+baseURL+"/checkout/"])
	require.Equal(t, 1, calls["POST "+baseURL+"/?wc-ajax=update_order_review"])
	require.Equal(t, 1, calls["POST "+baseURL+"/?wc-ajax=checkout"])
}

func TestCheckoutMissingReviewNonceAborts(t *testing.T) {
	p := newTestPurchaser(t)
	httpmock.RegisterResponder("GET", baseURL+"/checkout/",
		httpmock.NewStringResponder(200, `<html><body>no params</body></html>`))

	_, err := p.Checkout(context.Background(), BillingInfo{}, ShippingInfo{}, PaymentInfo{})

	var purchaseErr *PurchaseError
	require.ErrorAs(t, err, &purchaseErr)
	require.Contains(t, purchaseErr.Reason, "update_order_review nonce")

	// no further handshake calls after the fatal extraction failure
	calls := httpmock.GetCallCountInfo()
	require.Zero(t, calls["POST "+baseURL+"/?wc-ajax=update_order_review"])
	require.Zero(t, calls["POST "+baseURL+"/?wc-ajax=checkout"])
}

func TestCheckoutRejectedResult(t *testing.T) {
	p := newTestPurchaser(t)
	p.now = taipeiDate(2024, time.March, 4)

	httpmock.RegisterResponder("GET", baseURL+"/checkout/",
		httpmock.NewStringResponder(200, checkoutPageHTML))
	httpmock.RegisterResponder("POST", baseURL+"/?wc-ajax=orddd_update_delivery_session",
		httpmock.NewStringResponder(200, deliveryFragment))
	httpmock.RegisterResponder("POST", baseURL+"/?wc-ajax=update_order_review",
		httpmock.NewStringResponder(200, reviewFragment))
	httpmock.RegisterResponder("POST", baseURL+"/?wc-ajax=checkout",
		httpmock.NewStringResponder(200, `{"result":"failure","messages":"Your card was declined."}`))

	_, err := p.Checkout(context.Background(), BillingInfo{}, ShippingInfo{}, PaymentInfo{})

	var purchaseErr *PurchaseError
	require.ErrorAs(t, err, &purchaseErr)
	require.Contains(t, purchaseErr.Reason, "Your card was declined.")
}

func TestCheckoutEmptyOrderID(t *testing.T) {
	p := newTestPurchaser(t)
	p.now = taipeiDate(2024, time.March, 4)

	httpmock.RegisterResponder("GET", baseURL+"/checkout/",
		httpmock.NewStringResponder(200, checkoutPageHTML))
	httpmock.RegisterResponder("POST", baseURL+"/?wc-ajax=orddd_update_delivery_session",
		httpmock.NewStringResponder(200, deliveryFragment))
	httpmock.RegisterResponder("POST", baseURL+"/?wc-ajax=update_order_review",
		httpmock.NewStringResponder(200, reviewFragment))
	httpmock.RegisterResponder("POST", baseURL+"/?wc-ajax=checkout",
		httpmock.NewStringResponder(200, `{"result":"success"}`))

	orderID, err := p.Checkout(context.Background(), BillingInfo{}, ShippingInfo{}, PaymentInfo{})
	require.NoError(t, err)
	require.Equal(t, "unknown", orderID)
}

func TestEarliestDeliveryDatePicksFirstFutureDate(t *testing.T) {
	p := newTestPurchaser(t)
	p.now = taipeiDate(2024, time.March, 4)

	httpmock.RegisterResponder("POST", baseURL+"/?wc-ajax=orddd_update_delivery_session",
		httpmock.NewStringResponder(200, deliveryFragment))

	date, err := p.EarliestDeliveryDate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "2024-03-05", date)
}

func TestEarliestDeliveryDateSkipsToday(t *testing.T) {
	p := newTestPurchaser(t)
	p.now = taipeiDate(2024, time.March, 5)

	httpmock.RegisterResponder("POST", baseURL+"/?wc-ajax=orddd_update_delivery_session",
		httpmock.NewStringResponder(200, deliveryFragment))

	// 3-5 is today, not strictly after, so 3-6 wins
	date, err := p.EarliestDeliveryDate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "2024-03-06", date)
}

func TestEarliestDeliveryDateNoFutureDates(t *testing.T) {
	p := newTestPurchaser(t)
	p.now = taipeiDate(2024, time.March, 6)

	httpmock.RegisterResponder("POST", baseURL+"/?wc-ajax=orddd_update_delivery_session",
		httpmock.NewStringResponder(200, deliveryFragment))

	_, err := p.EarliestDeliveryDate(context.Background(), "")

	var purchaseErr *PurchaseError
	require.ErrorAs(t, err, &purchaseErr)
	require.Contains(t, purchaseErr.Reason, "no delivery dates available")
}

func TestBuildCheckoutPayloadDefaults(t *testing.T) {
	payload := buildCheckoutPayload(
		Options{BaseURL: baseURL, UserAgent: "stockwatch-test"},
		BillingInfo{FirstName: "Mei", Email: "mei@example.com"},
		ShippingInfo{},
		PaymentInfo{CardNumber: "4111111111111111", ExpiryMonth: "12", ExpiryYear: "27", CVV: "123"},
		"2024-03-05",
	)

	require.Equal(t, "TW", payload.Get("billing_country"))
	require.Equal(t, "none", payload.Get("billing_address_1"))
	require.Equal(t, "none", payload.Get("billing_city"))
	require.Equal(t, "1", payload.Get("billing_carruer_type"))
	require.Equal(t, defaultShippingMethod, payload.Get("shipping_method[0]"))
	require.Equal(t, "2024-03-05", payload.Get("e_deliverydate_0"))
	require.Equal(t, gatewaySinopacCredit, payload.Get("payment_method"))
	require.Equal(t, "4111111111111111", payload.Get("as_sinopac_card_number"))
	require.Equal(t, "123", payload.Get("as_sinopac_card_cvv"))
}

func TestBuildCheckoutPayloadGatesCardFieldsByGateway(t *testing.T) {
	payload := buildCheckoutPayload(
		Options{BaseURL: baseURL},
		BillingInfo{},
		ShippingInfo{},
		PaymentInfo{Method: "cod", CardNumber: "4111111111111111"},
		"2024-03-05",
	)

	require.Equal(t, "cod", payload.Get("payment_method"))
	require.Empty(t, payload.Get("as_sinopac_card_number"))
	require.Empty(t, payload.Get("as_sinopac_expiry_month"))
}

func TestProductURLJoining(t *testing.T) {
	p, err := New(Options{BaseURL: baseURL + "/"})
	require.NoError(t, err)

	require.Equal(t, baseURL+"/product/x/", p.productURL("/product/x/"))
	require.Equal(t, baseURL+"/product/x/", p.productURL("product/x/"))
	require.Equal(t, "https://other.example.com/p", p.productURL("https://other.example.com/p"))

	// joined URLs must stay parseable
	_, err = url.Parse(p.productURL("product/x/"))
	require.NoError(t, err)
}
