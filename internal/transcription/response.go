package transcription

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/skypro1111/asr-stream-service/internal/transcript"
)

// flag is a completion indicator. Servers send booleans, but numbers and
// strings are accepted too: non-zero and non-empty count as set.
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch t := v.(type) {
	case nil:
		*f = false
	case bool:
		*f = flag(t)
	case float64:
		*f = t != 0
	case string:
		*f = t != ""
	default:
		*f = true
	}
	return nil
}

// code is an error code sent either as a JSON number or a numeric string.
type code int64

func (c *code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*c = 0
		return nil
	}

	s := strings.Trim(string(data), `"`)
	if s == "" {
		*c = 0
		return nil
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid error code %s: %w", data, err)
	}
	*c = code(n)
	return nil
}

// ResultSegment is one fragment in the "result" field. Definite is absent on
// servers that only report final fragments; absent means definite.
type ResultSegment struct {
	Text     string `json:"text"`
	Definite *bool  `json:"definite"`
}

// Response is the JSON payload of a server frame. Every field is optional and
// checked for presence explicitly.
type Response struct {
	ErrorCode   *code           `json:"error_code"`
	Code        *code           `json:"code"`
	Message     string          `json:"message"`
	Error       string          `json:"error"`
	Result      json.RawMessage `json:"result"`
	EndOfResult *flag           `json:"end_of_result"`
	IsFinal     *flag           `json:"is_final"`
	Final       *flag           `json:"final"`
}

// ParseResponse decodes a server payload.
func ParseResponse(payload []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ServerError returns the first non-zero of error_code and code.
func (r *Response) ServerError() (int64, bool) {
	for _, c := range []*code{r.ErrorCode, r.Code} {
		if c != nil && *c != 0 {
			return int64(*c), true
		}
	}
	return 0, false
}

// ErrorMessage returns the server supplied description of an error.
func (r *Response) ErrorMessage() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Error
}

// Finished reports whether any of the completion indicators is set.
func (r *Response) Finished() bool {
	for _, f := range []*flag{r.EndOfResult, r.IsFinal, r.Final} {
		if f != nil && bool(*f) {
			return true
		}
	}
	return false
}

// Segments returns the result fragments, whether "result" holds a single
// object or a list. Anything else yields no segments.
func (r *Response) Segments() ([]transcript.Segment, error) {
	raw := bytes.TrimSpace(r.Result)
	if len(raw) == 0 {
		return nil, nil
	}

	var list []ResultSegment
	switch raw[0] {
	case '{':
		var seg ResultSegment
		if err := json.Unmarshal(raw, &seg); err != nil {
			return nil, fmt.Errorf("invalid result object: %w", err)
		}
		list = []ResultSegment{seg}
	case '[':
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("invalid result list: %w", err)
		}
	default:
		return nil, nil
	}

	segments := make([]transcript.Segment, 0, len(list))
	for _, seg := range list {
		segments = append(segments, transcript.Segment{
			Text:     seg.Text,
			Definite: seg.Definite == nil || *seg.Definite,
		})
	}
	return segments, nil
}
