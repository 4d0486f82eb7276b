package oneview

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"resultfetch/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/oneview")

// Recognizer turns a captcha image into raw text. Satisfied by
// *ocrpool.Pool.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client
	ocr     Recognizer
}

type ClientOptions struct {
	BaseUrl string
	OCR     Recognizer
	// Output can be nil, http messages are then not dumped to disk
	Output restyutil.InstrumentOutput
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	// redirects are never followed automatically, the workflow inspects
	// Location targets itself
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}))
	client.SetTimeout(time.Second * 30)

	restyutil.InstrumentClient(client, tracer, opts.Output)

	c := &Client{
		BaseUrl: baseUrl,
		Http:    client,
		ocr:     opts.OCR,
	}
	return c, nil
}

func sessionCookie(session string) *http.Cookie {
	return &http.Cookie{Name: sessionCookieName, Value: session}
}
