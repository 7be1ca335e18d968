package output

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"":      FormatText,
		"text":  FormatText,
		"JSON":  FormatJSON,
		"yml":   FormatYAML,
		"yaml":  FormatYAML,
		"junit": FormatJUnit,
		"xml":   FormatJUnit,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("html")
	assert.Error(t, err)
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatJSON, FormatForPath("result.json"))
	assert.Equal(t, FormatJSON, FormatForPath("result"))
	assert.Equal(t, FormatYAML, FormatForPath("result.YML"))
	assert.Equal(t, FormatJUnit, FormatForPath("junit.xml"))
	assert.Equal(t, FormatText, FormatForPath("summary.txt"))
}

func TestWriteResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, FormatJSON, sampleResult()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["runId"])
	assert.Equal(t, false, decoded["passed"])

	m := decoded["metrics"].(map[string]any)
	assert.Equal(t, float64(12345), m["totalRequests"])
	assert.Len(t, decoded["stages"], 3)
	assert.Len(t, decoded["thresholds"], 2)

	series := m["timeSeries"].([]any)
	require.Len(t, series, 2)
	second := series[1].(map[string]any)
	assert.Equal(t, float64(2*time.Second), second["elapsed"])
	assert.Equal(t, float64(20), second["requests"])
	assert.Equal(t, float64(1), second["failures"])
	assert.Equal(t, float64(45*time.Millisecond), second["p95"])
	assert.Equal(t, float64(2), second["activeVUs"])
}

func TestWriteResult_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, FormatYAML, sampleResult()))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "menu items spike", decoded["name"])
	assert.Contains(t, buf.String(), "runid: run-1")
	assert.Contains(t, buf.String(), "timeseries:")
	assert.Contains(t, buf.String(), "p95: 45ms")
}

func TestWriteResult_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, FormatText, sampleResult()))
	assert.Contains(t, buf.String(), "Latency Distribution:")
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestWriteResult_JUnit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, FormatJUnit, sampleResult()))
	assert.Contains(t, buf.String(), xml.Header)

	var suites JUnitTestSuites
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &suites))
	require.Len(t, suites.TestSuites, 1)

	suite := suites.TestSuites[0]
	assert.Equal(t, "menu items spike", suite.Name)
	assert.Equal(t, 2, suite.Tests)
	assert.Equal(t, 1, suite.Failures)
	assert.Nil(t, suite.TestCases[0].Failure)
	require.NotNil(t, suite.TestCases[1].Failure)
	assert.Equal(t, "actual: 0.0036", suite.TestCases[1].Failure.Message)
	assert.Contains(t, suite.SystemOut, "12345 requests")
}

func TestWriteResult_UnknownFormat(t *testing.T) {
	assert.Error(t, WriteResult(&bytes.Buffer{}, Format("html"), sampleResult()))
}

func TestWriteResultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, WriteResultFile(path, sampleResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"runId": "run-1"`)

	assert.Error(t, WriteResultFile(filepath.Join(t.TempDir(), "missing", "result.json"), sampleResult()))
}
