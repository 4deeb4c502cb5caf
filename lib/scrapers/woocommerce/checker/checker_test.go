package checker

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const productURL = "https://store.example.com/product/strawberry-daifuku/"

func newTestChecker(t *testing.T, opts Options) *Checker {
	t.Helper()
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	opts.RetryDelay = time.Millisecond
	c := New(opts)
	httpmock.ActivateNonDefault(c.pageClient.GetClient())
	httpmock.ActivateNonDefault(c.probeClient.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func productPage(classes string, withCartControl bool) string {
	control := ""
	if withCartControl {
		control = `<button type="submit" name="add-to-cart" value="4093">Add to cart</button>`
	}
	return `<html><body><div id="product-4093" class="` + classes + `">` + control + `</div></body></html>`
}

func TestOutOfStockClassShortCircuits(t *testing.T) {
	c := newTestChecker(t, Options{})
	httpmock.RegisterResponder("GET", productURL,
		httpmock.NewStringResponder(200, productPage("product outofstock", true)))

	available, err := c.IsAvailable(context.Background(), productURL)
	require.NoError(t, err)
	require.False(t, available)

	// the probe must never run on the authoritative path
	require.Zero(t, httpmock.GetCallCountInfo()["POST "+productURL])
}

func TestInStockWithCartRedirect(t *testing.T) {
	c := newTestChecker(t, Options{})
	httpmock.RegisterResponder("GET", productURL,
		httpmock.NewStringResponder(200, productPage("product instock", true)))
	httpmock.RegisterResponder("POST", productURL,
		func(req *http.Request) (*http.Response, error) {
			res := httpmock.NewStringResponse(302, "")
			res.Header.Set("Location", "https://store.example.com/cart/")
			return res, nil
		})

	available, err := c.IsAvailable(context.Background(), productURL)
	require.NoError(t, err)
	require.True(t, available)
}

func TestProbeErrorPhraseMarksUnavailable(t *testing.T) {
	c := newTestChecker(t, Options{AssumeAvailable: true})
	httpmock.RegisterResponder("GET", productURL,
		httpmock.NewStringResponder(200, productPage("product instock", true)))
	httpmock.RegisterResponder("POST", productURL,
		httpmock.NewStringResponder(200, `<ul class="woocommerce-error"><li>You cannot add that amount to the cart.</li></ul>`))

	available, err := c.IsAvailable(context.Background(), productURL)
	require.NoError(t, err)
	require.False(t, available)
}

func TestProbeLocalePhraseMarksUnavailable(t *testing.T) {
	c := newTestChecker(t, Options{AssumeAvailable: true})
	httpmock.RegisterResponder("GET", productURL,
		httpmock.NewStringResponder(200, productPage("product", true)))
	httpmock.RegisterResponder("POST", productURL,
		httpmock.NewStringResponder(200, `<div class="notice">此商品目前缺貨中</div>`))

	available, err := c.IsAvailable(context.Background(), productURL)
	require.NoError(t, err)
	require.False(t, available)
}

func TestUnknownSignalFallsThroughToProbe(t *testing.T) {
	c := newTestChecker(t, Options{AssumeAvailable: true})
	httpmock.RegisterResponder("GET", productURL,
		httpmock.NewStringResponder(200, productPage("product type-product", true)))
	httpmock.RegisterResponder("POST", productURL,
		httpmock.NewStringResponder(200, `<div class="cart-message">thanks</div>`))

	available, err := c.IsAvailable(context.Background(), productURL)
	require.NoError(t, err)
	require.True(t, available)
	require.Equal(t, 1, httpmock.GetCallCountInfo()["POST "+productURL])
}

func TestOutOfStockWrapperWithoutContainer(t *testing.T) {
	c := newTestChecker(t, Options{AssumeAvailable: true})
	httpmock.RegisterResponder("GET", productURL,
		httpmock.NewStringResponder(200, `<html><body><div class="out_of_stock_wrapper">sold out</div></body></html>`))

	available, err := c.IsAvailable(context.Background(), productURL)
	require.NoError(t, err)
	require.False(t, available)
}

func TestNoCartControlUsesConfiguredDefault(t *testing.T) {
	for _, assume := range []bool{true, false} {
		c := newTestChecker(t, Options{AssumeAvailable: assume})
		httpmock.RegisterResponder("GET", productURL,
			httpmock.NewStringResponder(200, productPage("product type-product", false)))

		available, err := c.IsAvailable(context.Background(), productURL)
		require.NoError(t, err)
		require.Equal(t, assume, available)
		httpmock.Reset()
	}
}

func TestFetchFailureAfterRetries(t *testing.T) {
	c := newTestChecker(t, Options{MaxRetries: 3})
	httpmock.RegisterResponder("GET", productURL,
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := c.IsAvailable(context.Background(), productURL)
	require.Error(t, err)

	var checkErr *CheckError
	require.ErrorAs(t, err, &checkErr)
	require.Equal(t, productURL, checkErr.URL)
	require.Equal(t, 3, httpmock.GetCallCountInfo()["GET "+productURL])
}

func TestServerErrorAfterRetries(t *testing.T) {
	c := newTestChecker(t, Options{MaxRetries: 2})
	httpmock.RegisterResponder("GET", productURL,
		httpmock.NewStringResponder(503, "maintenance"))

	_, err := c.IsAvailable(context.Background(), productURL)

	var checkErr *CheckError
	require.ErrorAs(t, err, &checkErr)
	require.Equal(t, 2, httpmock.GetCallCountInfo()["GET "+productURL])
}

func TestProbeTransportFailureDegradesToUnavailable(t *testing.T) {
	c := newTestChecker(t, Options{AssumeAvailable: true})
	httpmock.RegisterResponder("GET", productURL,
		httpmock.NewStringResponder(200, productPage("product instock", true)))
	httpmock.RegisterResponder("POST", productURL,
		httpmock.NewErrorResponder(errors.New("connection reset")))

	available, err := c.IsAvailable(context.Background(), productURL)
	require.NoError(t, err)
	require.False(t, available)
}
