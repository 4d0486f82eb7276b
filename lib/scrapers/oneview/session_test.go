package oneview

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePortal mimics the portal's three-step flow: entry page, program
// selection redirect, results form with a captcha.
type fakePortal struct {
	mu          sync.Mutex
	captchaHits int
	submissions []url.Values

	captchaAnswer  string
	redirectTarget string
	submitBody     func(form url.Values) string
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		captchaAnswer:  "AB3D",
		redirectTarget: "Result.aspx",
	}
}

func captchaImageBytes() []byte {
	img := append([]byte{0x89, 'P', 'N', 'G'}, bytes.Repeat([]byte{0}, 256)...)
	return img
}

func (p *fakePortal) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/WebPages/OneView/OneView.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "session-1"})
			fmt.Fprint(w, `<html><body><form>
				<input type="hidden" name="__VIEWSTATE" value="entry-vs" />
				<input type="hidden" name="__EVENTVALIDATION" value="entry-ev" />
			</form></body></html>`)
			return
		}

		r.ParseForm()
		if r.PostFormValue("ddlProgram") != "BTECH" || r.PostFormValue("__VIEWSTATE") == "" {
			w.Header().Set("Location", "Error.aspx")
			w.WriteHeader(http.StatusFound)
			return
		}
		w.Header().Set("Location", p.redirectTarget)
		w.WriteHeader(http.StatusFound)
	})

	mux.HandleFunc("/WebPages/OneView/Result.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<html><body><form>
				<input type="hidden" name="__VIEWSTATE" value="form-vs" />
				<input type="hidden" name="__EVENTVALIDATION" value="form-ev" />
				<img id="imgCaptcha" src="Captcha.ashx" />
			</form></body></html>`)
			return
		}

		r.ParseForm()
		p.mu.Lock()
		p.submissions = append(p.submissions, r.PostForm)
		submitBody := p.submitBody
		p.mu.Unlock()

		if submitBody != nil {
			fmt.Fprint(w, submitBody(r.PostForm))
			return
		}
		if r.PostFormValue("__VIEWSTATE") != "form-vs" {
			fmt.Fprint(w, "<html><body>Session expired</body></html>")
			return
		}
		if r.PostFormValue("txtCaptcha") != p.captchaAnswer {
			fmt.Fprint(w, "<html><body>Invalid Captcha</body></html>")
			return
		}
		fmt.Fprint(w, successPage(r.PostFormValue("txtRollNo")))
	})

	mux.HandleFunc("/WebPages/OneView/Captcha.ashx", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.captchaHits++
		p.mu.Unlock()
		w.Write(captchaImageBytes())
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func successPage(rollNo string) string {
	return fmt.Sprintf(`<html><body>
	<span id="lblUniversity">Dr. A.P.J. Abdul Kalam Technical University</span>
	<span id="lblSession">2023-24</span>
	<span id="lblName">RAHUL VERMA</span>
	<span id="lblRollNo">%s</span>
	<span id="lblCourse">B.TECH</span>
	<span id="lblBranch">COMPUTER SCIENCE AND ENGINEERING</span>
	<span id="lblSemester">5</span>
	<span id="lblStatus">Regular</span>
	<table id="gvSubjects">
		<tr><th>Subject</th><th>Total Credit</th><th>Earned Credit</th><th>Grade</th></tr>
		<tr><td>Subject Name</td><td></td><td></td><td></td></tr>
		<tr><td>DATABASE MANAGEMENT SYSTEM</td><td>4</td><td>4</td><td>A</td></tr>
		<tr><td>COMPILER DESIGN</td><td>4</td><td>4</td><td>B+</td></tr>
		<tr><td>Grand Total</td><td>8</td><td>8</td><td></td></tr>
	</table>
	<span id="lblResultDescription">PASS</span>
	<span id="lblSGPA">8.5</span>
	<span id="lblCGPA">8.2</span>
	<span id="lblRevalNormal">2024-08-10</span>
	<span id="lblRevalLate">2024-08-20</span>
	</body></html>`, rollNo)
}

func newTestClient(t *testing.T, baseUrl string, ocr Recognizer) *Client {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	client, err := NewClient(ctx, ClientOptions{
		BaseUrl: baseUrl,
		OCR:     ocr,
	})
	require.NoError(t, err)
	return client
}

func TestEstablishChallenge(t *testing.T) {
	portal := newFakePortal()
	server := portal.server(t)
	client := newTestClient(t, server.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	cc, err := client.EstablishChallenge(ctx)
	require.NoError(t, err)

	require.Equal(t, "session-1", cc.Session)
	require.Equal(t, "form-vs", cc.Hidden["__VIEWSTATE"])
	require.Equal(t, "form-ev", cc.Hidden["__EVENTVALIDATION"])
	require.Equal(t, server.URL+"/WebPages/OneView/Captcha.ashx", cc.CaptchaURL)
	require.Equal(t, server.URL+"/WebPages/OneView/Result.aspx", cc.FormURL)
}

func TestEstablishChallengeUnexpectedRedirect(t *testing.T) {
	portal := newFakePortal()
	portal.redirectTarget = "Maintenance.aspx"
	server := portal.server(t)
	client := newTestClient(t, server.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	_, err := client.EstablishChallenge(ctx)
	require.ErrorIs(t, err, ErrUnexpectedRedirect)
}
