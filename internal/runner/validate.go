package runner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validator decides whether a response counts as a success. Returning a *StatusError
// classifies the attempt as unexpected_status, anything else as invalid_response.
type Validator func(resp *Response) error

// Expect2xx is the default validator.
func Expect2xx(resp *Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{Code: resp.StatusCode}
}

// ExpectStatus accepts only the listed codes. With no codes it behaves like Expect2xx.
func ExpectStatus(codes ...int) Validator {
	if len(codes) == 0 {
		return Expect2xx
	}
	allowed := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		allowed[c] = struct{}{}
	}
	return func(resp *Response) error {
		if _, ok := allowed[resp.StatusCode]; ok {
			return nil
		}
		return &StatusError{Code: resp.StatusCode}
	}
}

// ExpectJSONField requires the body to be a JSON object containing the dotted path,
// e.g. "result" or "result.last_price".
func ExpectJSONField(path string) Validator {
	parts := strings.Split(path, ".")
	return func(resp *Response) error {
		var doc any
		if err := json.Unmarshal(resp.Body, &doc); err != nil {
			return &PayloadError{Msg: "body is not JSON"}
		}
		cur := doc
		for _, p := range parts {
			obj, ok := cur.(map[string]any)
			if !ok {
				return &PayloadError{Msg: fmt.Sprintf("missing field %q", path)}
			}
			if cur, ok = obj[p]; !ok {
				return &PayloadError{Msg: fmt.Sprintf("missing field %q", path)}
			}
		}
		return nil
	}
}

// All runs validators in order and returns the first rejection.
func All(vs ...Validator) Validator {
	return func(resp *Response) error {
		for _, v := range vs {
			if v == nil {
				continue
			}
			if err := v(resp); err != nil {
				return err
			}
		}
		return nil
	}
}
