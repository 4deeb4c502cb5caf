// Package checker decides whether a WooCommerce product can actually be
// bought. The product container class is the cheap primary signal; when it
// is inconclusive a simulated add-to-cart request settles the question.
package checker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"stockwatch-backend/lib/restyutil"
	"stockwatch-backend/lib/scrapers/woocommerce/page"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/woocommerce/checker")

// CheckError reports that an availability check could not be completed
// after all retries.
type CheckError struct {
	URL string
	Err error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("check %s: %v", e.URL, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// phrases whose presence in an add-to-cart response marks the product
// unavailable. matched case-insensitively.
var DefaultErrorPhrases = []string{
	"cannot add",
	"out of stock",
	"woocommerce-error",
	"product is unavailable",
	"缺貨",
}

type Options struct {
	Timeout    time.Duration
	UserAgent  string
	MaxRetries int
	RetryDelay time.Duration
	// verdict when neither an error phrase nor a cart redirect shows up
	// in the probe response. optimistic by default, tune per store.
	AssumeAvailable bool
	ErrorPhrases    []string
}

type Checker struct {
	pageClient  *resty.Client
	probeClient *resty.Client
	opts        Options
}

func New(opts Options) *Checker {
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if len(opts.ErrorPhrases) == 0 {
		opts.ErrorPhrases = DefaultErrorPhrases
	}

	pageClient := resty.New()
	pageClient.SetTimeout(opts.Timeout)
	pageClient.SetHeaders(map[string]string{
		"User-Agent":      opts.UserAgent,
		"Accept":          "text/html,application/xhtml+xml",
		"Accept-Language": "en-US,en;q=0.9",
	})
	pageClient.SetRetryCount(opts.MaxRetries - 1)
	pageClient.SetRetryWaitTime(opts.RetryDelay)
	pageClient.SetRetryMaxWaitTime(opts.RetryDelay)
	pageClient.AddRetryCondition(func(res *resty.Response, err error) bool {
		return err != nil || res.IsError()
	})
	pageClient.AddRetryHook(func(res *resty.Response, err error) {
		slog.Warn("product page fetch failed, retrying",
			"url", res.Request.URL,
			"attempt", res.Request.Attempt,
			"err", err,
		)
	})
	restyutil.InstrumentClient(pageClient, tracer, nil)

	// the probe client must not follow redirects: the redirect target is
	// itself the availability signal
	probeClient := resty.New()
	probeClient.SetTimeout(opts.Timeout)
	probeClient.SetHeader("User-Agent", opts.UserAgent)
	probeClient.SetRedirectPolicy(resty.NoRedirectPolicy())
	restyutil.InstrumentClient(probeClient, tracer, nil)

	return &Checker{
		pageClient:  pageClient,
		probeClient: probeClient,
		opts:        opts,
	}
}

// IsAvailable fetches the product page and derives a purchasability
// verdict. It returns a *CheckError only when the page itself cannot be
// fetched; the cart-probe is best effort and degrades to "unavailable".
func (c *Checker) IsAvailable(ctx context.Context, productURL string) (bool, error) {
	ctx, span := tracer.Start(ctx, "checker:IsAvailable")
	defer span.End()

	html, err := c.fetchPage(ctx, productURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch product page")
		return false, &CheckError{URL: productURL, Err: err}
	}

	switch signal := page.StockSignal(html); signal {
	case page.SignalOutOfStock:
		slog.InfoContext(ctx, "stock class says out of stock", "url", productURL)
		return false, nil
	case page.SignalInStock:
		slog.DebugContext(ctx, "stock class says in stock, probing cart", "url", productURL)
	default:
		if page.HasOutOfStockWrapper(html) {
			slog.InfoContext(ctx, "found out_of_stock_wrapper", "url", productURL)
			return false, nil
		}
		slog.DebugContext(ctx, "no stock class signal, probing cart", "url", productURL)
	}

	productID, ok := page.ProductID(html)
	if !ok {
		slog.WarnContext(ctx, "no add-to-cart control on page, check inconclusive",
			"url", productURL,
			"assume_available", c.opts.AssumeAvailable,
		)
		return c.opts.AssumeAvailable, nil
	}

	return c.cartProbe(ctx, productURL, productID), nil
}

func (c *Checker) fetchPage(ctx context.Context, productURL string) (string, error) {
	res, err := c.pageClient.R().
		SetContext(ctx).
		Get(productURL)
	if err != nil {
		return "", fmt.Errorf("after %d attempts: %w", c.opts.MaxRetries, err)
	}
	if res.IsError() {
		return "", fmt.Errorf("after %d attempts: status %d", c.opts.MaxRetries, res.StatusCode())
	}
	return res.String(), nil
}

// cartProbe simulates an add-to-cart and inspects how the store reacts.
// Transport failures degrade to false rather than erroring, the probe is
// a fallback signal, not the check itself.
func (c *Checker) cartProbe(ctx context.Context, productURL string, productID int) bool {
	ctx, span := tracer.Start(ctx, "checker:cartProbe")
	defer span.End()

	res, err := c.probeClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"add-to-cart": strconv.Itoa(productID),
			"quantity":    "1",
		}).
		Post(productURL)

	if res != nil && res.StatusCode() >= 300 && res.StatusCode() < 400 {
		location := res.Header().Get("Location")
		if strings.Contains(strings.ToLower(location), "cart") {
			slog.InfoContext(ctx, "cart probe redirected to cart, product available",
				"url", productURL, "location", location)
			return true
		}
		slog.DebugContext(ctx, "cart probe redirected elsewhere",
			"url", productURL, "location", location)
		return c.opts.AssumeAvailable
	}
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "cart probe failed, treating as unavailable",
			"url", productURL, "err", err)
		return false
	}

	body := strings.ToLower(res.String())
	for _, phrase := range c.opts.ErrorPhrases {
		if strings.Contains(body, strings.ToLower(phrase)) {
			slog.InfoContext(ctx, "cart probe found error phrase",
				"url", productURL, "phrase", phrase)
			return false
		}
	}

	slog.DebugContext(ctx, "cart probe inconclusive",
		"url", productURL, "assume_available", c.opts.AssumeAvailable)
	return c.opts.AssumeAvailable
}
