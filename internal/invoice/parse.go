package invoice

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

const fence = "```"

var errEmptyInvoice = errors.New("extracted invoice has no fields")

// StripFence removes a markdown code fence, with or without a language tag, wrapped around
// model output. Text without a fence is only trimmed.
func StripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, fence) {
		return text
	}

	body := text[len(fence):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if !strings.ContainsAny(body[:nl], "{[") {
			body = body[nl+1:]
		}
	} else {
		// single line fence such as ```json {"a":1}```
		body = strings.TrimLeftFunc(body, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		})
		body = strings.TrimLeftFunc(body, unicode.IsSpace)
	}

	if strings.HasSuffix(body, fence) {
		body = strings.TrimSuffix(body, fence)
		body = strings.TrimSuffix(body, "\n")
		body = strings.TrimSuffix(body, "\r")
	}
	return body
}

// ParseInvoice decodes model output into an Invoice. Output that is not a JSON object, or an object
// with no fields at all, fails with ErrParse and the raw text as details.
func ParseInvoice(text string) (*Invoice, error) {
	cleaned := StripFence(text)

	fail := func(err error) (*Invoice, error) {
		return nil, &StageError{Stage: StageParsing, Kind: ErrParse, Details: text, Err: err}
	}

	if !gjson.Valid(cleaned) {
		return fail(errors.New("response is not valid JSON"))
	}
	root := gjson.Parse(cleaned)
	if !root.IsObject() {
		return fail(errNotObject)
	}
	if len(root.Map()) == 0 {
		return fail(errEmptyInvoice)
	}

	var inv Invoice
	if err := json.Unmarshal([]byte(cleaned), &inv); err != nil {
		return fail(err)
	}
	// keys the codec drops, such as "", can still leave nothing behind
	if reflect.ValueOf(inv).IsZero() {
		return fail(errEmptyInvoice)
	}
	return &inv, nil
}
