package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
)

type toggleRequest struct {
	Enabled *bool  `json:"enabled" validate:"required"`
	Label   string `json:"label,omitempty" validate:"max=8"`
}

func decode(t *testing.T, body string) (toggleRequest, error) {
	t.Helper()
	r := httptest.NewRequest("PUT", "/v1/preferences/sound", strings.NewReader(body))
	w := httptest.NewRecorder()
	var req toggleRequest
	err := DecodeJSONBody(w, r, &req)
	return req, err
}

func TestDecodeJSONBodyAcceptsValidBody(t *testing.T) {
	req, err := decode(t, `{"enabled":false}`)
	require.NoError(t, err)
	require.NotNil(t, req.Enabled)
	assert.False(t, *req.Enabled)
}

func TestDecodeJSONBodyReportsMissingFieldByJSONName(t *testing.T) {
	_, err := decode(t, `{}`)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Equal(t, map[string]string{"enabled": "is required"}, typed.Details())
}

func TestDecodeJSONBodyRejects(t *testing.T) {
	cases := map[string]struct {
		body    string
		message string
	}{
		"empty":         {body: ``, message: "request body is empty"},
		"unknown field": {body: `{"enabled":true,"volume":3}`, message: "invalid request body"},
		"syntax":        {body: `{"enabled":`, message: "invalid request body"},
		"wrong type":    {body: `{"enabled":"yes"}`, message: "wrong type for field"},
		"trailing data": {body: `{"enabled":true}{"enabled":false}`, message: "request body must contain a single JSON object"},
		"too long":      {body: `{"enabled":true,"label":"far too long"}`, message: "validation failed"},
		"oversized":     {body: `{"label":"` + strings.Repeat("x", MaxBodyBytes) + `"}`, message: "request body too large"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, tc.body)
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
			assert.Equal(t, tc.message, typed.Message())
		})
	}
}
