package oneview

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"resultfetch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

// fixed facts about the portal, not something this package defines
const (
	entryPath         = "/WebPages/OneView/OneView.aspx"
	resultsFormMarker = "Result.aspx"
	sessionCookieName = "ASP.NET_SessionId"

	programField    = "ddlProgram"
	programValue    = "BTECH"
	viewButtonField = "btnViewResult"
	viewButtonValue = "View Result"
)

var ErrUnexpectedRedirect = fmt.Errorf("program selection did not redirect to the results form")

// ChallengeContext is everything one submission attempt needs: the session
// token, the hidden anti-forgery fields to replay verbatim, and where to
// find the captcha and the form. Single use, a stale context cannot be
// resubmitted.
type ChallengeContext struct {
	Session    string
	Hidden     map[string]string
	CaptchaURL string
	FormURL    string
}

// EstablishChallenge walks the portal's three-step flow: entry page,
// program selection, results form. It fails with ErrUnexpectedRedirect if
// the selection step lands anywhere but the results form; the caller must
// restart from scratch rather than resume mid-way.
func (c *Client) EstablishChallenge(ctx context.Context) (ChallengeContext, error) {
	ctx, span := tracer.Start(ctx, "client:EstablishChallenge")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(entryPath)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch entry page")
		return ChallengeContext{}, err
	}
	session := sessionFromCookies(res, "")
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse entry page html")
		return ChallengeContext{}, err
	}

	form := map[string]string{}
	for name, value := range htmlutil.HiddenInputs(doc) {
		form[name] = value
	}
	form[programField] = programValue
	form[viewButtonField] = viewButtonValue

	res, err = c.Http.R().
		SetContext(ctx).
		SetCookie(sessionCookie(session)).
		SetFormData(form).
		Post(entryPath)
	if err != nil {
		span.SetStatus(codes.Error, "failed to submit program selection")
		return ChallengeContext{}, err
	}
	location := res.Header().Get("Location")
	if res.StatusCode() != http.StatusFound || !strings.Contains(location, resultsFormMarker) {
		span.SetStatus(codes.Error, fmt.Sprintf("unexpected redirect: %d %q", res.StatusCode(), location))
		return ChallengeContext{}, ErrUnexpectedRedirect
	}
	session = sessionFromCookies(res, session)

	formUrl, err := c.resolve(entryPath, location)
	if err != nil {
		return ChallengeContext{}, err
	}

	res, err = c.Http.R().
		SetContext(ctx).
		SetCookie(sessionCookie(session)).
		Get(formUrl)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch results form")
		return ChallengeContext{}, err
	}
	session = sessionFromCookies(res, session)
	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse results form html")
		return ChallengeContext{}, err
	}

	captchaSrc := doc.Find("img#imgCaptcha").AttrOr("src", "")
	if captchaSrc == "" {
		span.SetStatus(codes.Error, "results form has no captcha image")
		return ChallengeContext{}, fmt.Errorf("could not find captcha image on results form")
	}
	captchaUrl, err := c.resolve(formUrl, captchaSrc)
	if err != nil {
		return ChallengeContext{}, err
	}

	return ChallengeContext{
		Session:    session,
		Hidden:     htmlutil.HiddenInputs(doc),
		CaptchaURL: captchaUrl,
		FormURL:    formUrl,
	}, nil
}

// resolve interprets `ref` relative to `base` (itself relative to the
// client's base url), the way a browser would resolve a Location header or
// an img src.
func (c *Client) resolve(base, ref string) (string, error) {
	baseUrl, err := c.BaseUrl.Parse(base)
	if err != nil {
		return "", err
	}
	full, err := baseUrl.Parse(ref)
	if err != nil {
		return "", err
	}
	return full.String(), nil
}

func sessionFromCookies(res *resty.Response, current string) string {
	for _, cookie := range res.Cookies() {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			return cookie.Value
		}
	}
	return current
}
