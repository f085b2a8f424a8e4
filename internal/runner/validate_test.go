package runner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidators(t *testing.T) {
	tests := []struct {
		name       string
		v          Validator
		resp       Response
		wantErr    bool
		wantStatus bool
	}{
		{"2xx ok", Expect2xx, Response{StatusCode: 204}, false, false},
		{"2xx rejects 404", Expect2xx, Response{StatusCode: 404}, true, true},
		{"explicit 404", ExpectStatus(404), Response{StatusCode: 404}, false, false},
		{"explicit rejects 200", ExpectStatus(404), Response{StatusCode: 200}, true, true},
		{"no codes means 2xx", ExpectStatus(), Response{StatusCode: 201}, false, false},
		{"json field present", ExpectJSONField("result"), Response{Body: []byte(`{"result":[]}`)}, false, false},
		{"json nested present", ExpectJSONField("result.last_price"), Response{Body: []byte(`{"result":{"last_price":1}}`)}, false, false},
		{"json nested missing", ExpectJSONField("result.last_price"), Response{Body: []byte(`{"result":{}}`)}, true, false},
		{"json not object", ExpectJSONField("result.x"), Response{Body: []byte(`{"result":5}`)}, true, false},
		{"not json", ExpectJSONField("result"), Response{Body: []byte(`<html>`)}, true, false},
		{"all stops at status", All(ExpectStatus(200), ExpectJSONField("result")), Response{StatusCode: 500}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.resp
			err := tt.v(&resp)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			var se *StatusError
			assert.Equal(t, tt.wantStatus, errors.As(err, &se))
		})
	}
}
