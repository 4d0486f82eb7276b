package oneview

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"resultfetch/lib/htmlutil"
	"resultfetch/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	rollNoField     = "txtRollNo"
	semesterField   = "ddlSemester"
	resultTypeField = "ddlResultType"
	resultTypeValue = "SEM"
	captchaField    = "txtCaptcha"
	submitField     = "btnSubmit"
	submitValue     = "Submit"
)

type Classification string

const (
	ClassInvalidCaptcha     Classification = "invalid_captcha"
	ClassRecordNotFound     Classification = "record_not_found"
	ClassServiceUnavailable Classification = "service_unavailable"
	ClassSuccess            Classification = "success"
	ClassUnrecognized       Classification = "unrecognized"
)

type Submission struct {
	Class   Classification
	Payload *ResultPayload
}

type Student struct {
	Name     string `json:"name"`
	RollNo   string `json:"roll_no"`
	Course   string `json:"course"`
	Branch   string `json:"branch"`
	Semester string `json:"semester"`
	Status   string `json:"status"`
}

type SubjectRow struct {
	Subject      string  `json:"subject"`
	TotalCredit  float64 `json:"total_credit"`
	EarnedCredit float64 `json:"earned_credit"`
	Grade        string  `json:"grade"`
}

type ResultSummary struct {
	Description string  `json:"description"`
	SGPA        float64 `json:"sgpa"`
	CGPA        float64 `json:"cgpa"`
}

type RevaluationDates struct {
	Normal string `json:"normal"`
	Late   string `json:"late"`
}

type ResultPayload struct {
	University       string           `json:"university"`
	Session          string           `json:"session"`
	Student          Student          `json:"student"`
	Subjects         []SubjectRow     `json:"subjects"`
	Results          ResultSummary    `json:"results"`
	RevaluationDates RevaluationDates `json:"revaluationDates"`
}

// SubmitResult replays the hidden fields of a freshly established
// challenge verbatim together with the roll number, semester and solved
// captcha. Classification outcomes are never errors, only transport
// failures are.
func (c *Client) SubmitResult(ctx context.Context, rollNo, semester string, cc ChallengeContext, captcha string) (Submission, error) {
	ctx, span := tracer.Start(ctx, "client:SubmitResult")
	defer span.End()
	span.SetAttributes(attribute.String("roll_no", rollNo))

	form := map[string]string{}
	for name, value := range cc.Hidden {
		form[name] = value
	}
	form[rollNoField] = rollNo
	form[semesterField] = semester
	form[resultTypeField] = resultTypeValue
	form[captchaField] = captcha
	form[submitField] = submitValue

	res, err := c.Http.R().
		SetContext(ctx).
		SetCookie(sessionCookie(cc.Session)).
		SetFormData(form).
		Post(cc.FormURL)
	if err != nil {
		span.SetStatus(codes.Error, "failed to submit result form")
		return Submission{}, err
	}

	class := Classify(res.String())
	span.SetAttributes(attribute.String("classification", string(class)))
	if class != ClassSuccess {
		return Submission{Class: class}, nil
	}

	payload, err := parseResult(res.Body())
	if err != nil {
		slog.WarnContext(ctx, "result markup present but unparsable", "roll_no", rollNo, "err", err)
		span.SetStatus(codes.Error, "failed to parse result markup")
		return Submission{Class: ClassUnrecognized}, nil
	}
	return Submission{Class: ClassSuccess, Payload: payload}, nil
}

// Classify maps a response body to exactly one outcome. The checks are
// order sensitive: error banners can appear on pages that still carry the
// form markup, so they win over the success marker.
func Classify(body string) Classification {
	switch {
	case strings.Contains(body, "Invalid Captcha") ||
		strings.Contains(body, "Captcha does not match"):
		return ClassInvalidCaptcha
	case strings.Contains(body, "No Record Found") ||
		strings.Contains(body, "Record Not Found"):
		return ClassRecordNotFound
	case strings.Contains(body, "under maintenance") ||
		strings.Contains(body, "Service Unavailable"):
		return ClassServiceUnavailable
	case strings.Contains(body, `id="lblRollNo"`):
		return ClassSuccess
	default:
		return ClassUnrecognized
	}
}

// the portal reuses subject-row markup for header and total rows, these
// labels identify them
var nonSubjectLabels = []string{
	"subject",
	"subjectname",
	"total",
	"grandtotal",
	"semestertotal",
}

func isNonSubjectRow(label string) bool {
	normalized := textutil.NormalizeName(label)
	if normalized == "" {
		return true
	}
	for _, known := range nonSubjectLabels {
		if normalized == known {
			return true
		}
		// the portal's markup has typoed labels in some sessions
		if matchr.DamerauLevenshtein(normalized, known) <= 1 {
			return true
		}
	}
	return false
}

func parseResult(body []byte) (*ResultPayload, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	text := func(selector string) string {
		sel := doc.Find(selector)
		if len(sel.Nodes) == 0 {
			return ""
		}
		value := htmlutil.GetText(sel.Nodes[0])
		return strings.TrimSpace(value)
	}

	payload := &ResultPayload{
		University: text("#lblUniversity"),
		Session:    text("#lblSession"),
		Student: Student{
			Name:     text("#lblName"),
			RollNo:   text("#lblRollNo"),
			Course:   text("#lblCourse"),
			Branch:   text("#lblBranch"),
			Semester: text("#lblSemester"),
			Status:   text("#lblStatus"),
		},
		Results: ResultSummary{
			Description: text("#lblResultDescription"),
			SGPA:        parseFloat(text("#lblSGPA")),
			CGPA:        parseFloat(text("#lblCGPA")),
		},
		RevaluationDates: RevaluationDates{
			Normal: text("#lblRevalNormal"),
			Late:   text("#lblRevalLate"),
		},
	}
	if payload.Student.RollNo == "" {
		return nil, fmt.Errorf("result page is missing the roll number")
	}

	doc.Find("#gvSubjects tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			// th-only header rows
			return
		}
		cell := func(i int) string {
			return strings.TrimSpace(cells.Eq(i).Text())
		}

		subject := cell(0)
		if isNonSubjectRow(subject) {
			return
		}
		payload.Subjects = append(payload.Subjects, SubjectRow{
			Subject:      subject,
			TotalCredit:  parseFloat(cell(1)),
			EarnedCredit: parseFloat(cell(2)),
			Grade:        cell(3),
		})
	})

	return payload, nil
}

func parseFloat(s string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return value
}
