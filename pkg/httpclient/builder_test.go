package httpclient

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/placeholders"
)

func testNamespace() *placeholders.Namespace {
	ns := placeholders.New()
	ns.Set("TOKEN", "tok-123")
	ns.Set("USER", "svc")
	ns.Set("PASS", "p4ss")
	ns.Set("TEAM_ID", "42")
	return ns
}

func TestBuild_ResolvesURLHeadersAndBody(t *testing.T) {
	step := models.Step{
		URL:            "https://api.example.com/teams/{{TEAM_ID}}/add",
		Headers:        map[string]string{"X-Token": "{{TOKEN}}"},
		Data:           map[string]any{"team": "{{TEAM_ID}}"},
		CastDataToJSON: true,
	}

	prepared, err := NewRequestBuilder().Build(step, nil, testNamespace(), nil)
	require.NoError(t, err)

	assert.Equal(t, "POST", prepared.Method)
	assert.Equal(t, "https://api.example.com/teams/42/add", prepared.URL)
	assert.Equal(t, "tok-123", prepared.Headers["X-Token"])
	assert.JSONEq(t, `{"team": "42"}`, string(prepared.Body))
	assert.Equal(t, "application/json", prepared.ContentType)
}

func TestBuild_DefaultHeadersWhenStepHasNone(t *testing.T) {
	step := models.Step{URL: "https://api.example.com", Method: "get"}

	prepared, err := NewRequestBuilder().Build(step, map[string]string{"Accept": "application/json"}, testNamespace(), nil)
	require.NoError(t, err)

	assert.Equal(t, "GET", prepared.Method)
	assert.Equal(t, "application/json", prepared.Headers["Accept"])
	assert.Nil(t, prepared.Body)
}

func TestBuild_BasicAuthIsEncodedAndRegistered(t *testing.T) {
	ns := testNamespace()
	step := models.Step{
		URL:     "https://api.example.com",
		Headers: map[string]string{"Authorization": "Basic {{USER}}:{{PASS}}"},
	}

	prepared, err := NewRequestBuilder().Build(step, nil, ns, nil)
	require.NoError(t, err)

	encoded := base64.StdEncoding.EncodeToString([]byte("svc:p4ss"))
	assert.Equal(t, "Basic "+encoded, prepared.Headers["Authorization"])

	sanitized := ns.Sanitize(prepared.Headers["Authorization"] + " svc:p4ss")
	assert.NotContains(t, sanitized, encoded)
	assert.NotContains(t, sanitized, "svc:p4ss")
}

func TestBuild_WithoutCastSendsResolvedText(t *testing.T) {
	step := models.Step{URL: "https://api.example.com", Data: map[string]any{"id": "{{TEAM_ID}}"}}

	prepared, err := NewRequestBuilder().Build(step, nil, testNamespace(), nil)
	require.NoError(t, err)

	assert.Equal(t, `{"id":"42"}`, string(prepared.Body))
	assert.Empty(t, prepared.ContentType)
}

func TestBuild_CastOfInvalidJSON(t *testing.T) {
	ns := testNamespace()
	ns.Set("QUOTE", `"`)
	step := models.Step{URL: "https://api.example.com", Data: map[string]any{"a": "{{QUOTE}}"}, CastDataToJSON: true}

	_, err := NewRequestBuilder().Build(step, nil, ns, nil)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindInvalidJSON, te.Kind)
	assert.Equal(t, "JSON is invalid", te.Error())
}

func TestBuild_MissingFile(t *testing.T) {
	step := models.Step{URL: "https://api.example.com/upload", Files: map[string]string{"file": "avatar.png"}}

	_, err := NewRequestBuilder().Build(step, nil, testNamespace(), map[string][]byte{"other.png": []byte("x")})

	var missing *MissingFileError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "avatar.png could not be found in the locally saved files", err.Error())
}

func TestBuild_MultipartWithSavedFile(t *testing.T) {
	step := models.Step{
		URL:            "https://api.example.com/upload",
		Files:          map[string]string{"file": "avatar.png"},
		Data:           map[string]any{"title": "{{TEAM_ID}}"},
		CastDataToJSON: true,
	}

	prepared, err := NewRequestBuilder().Build(step, nil, testNamespace(), map[string][]byte{"avatar.png": []byte("PNGDATA")})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(prepared.ContentType, "multipart/form-data"))
	assert.Contains(t, string(prepared.Body), "PNGDATA")
	assert.Contains(t, string(prepared.Body), `name="title"`)
}

func TestBuild_InvalidURLAndHeader(t *testing.T) {
	_, err := NewRequestBuilder().Build(models.Step{URL: "{{MISSING}}/path"}, nil, testNamespace(), nil)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindInvalidURL, te.Kind)

	_, err = NewRequestBuilder().Build(models.Step{
		URL:     "https://api.example.com",
		Headers: map[string]string{"Bad Header": "x"},
	}, nil, testNamespace(), nil)
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindInvalidHeader, te.Kind)
	assert.Equal(t, "The header is invalid", te.Error())
}
