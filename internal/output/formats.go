package output

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/surge/internal/orchestrator"
)

// Format represents the format of a written result
type Format string

const (
	// FormatText is the plain-text summary
	FormatText Format = "text"
	// FormatJSON is the full result as JSON
	FormatJSON Format = "json"
	// FormatYAML is the full result as YAML
	FormatYAML Format = "yaml"
	// FormatJUnit reports each threshold as a JUnit test case
	FormatJUnit Format = "junit"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	case FormatJUnit, "xml":
		return FormatJUnit, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// FormatForPath picks a format from a file extension, defaulting to JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".xml":
		return FormatJUnit
	case ".txt":
		return FormatText
	default:
		return FormatJSON
	}
}

// WriteResult writes result to w in the given format.
func WriteResult(w io.Writer, format Format, result *orchestrator.Result) error {
	switch format {
	case FormatText:
		c := NewConsole(ConsoleConfig{Writer: w, NoColor: true})
		c.writeSummary(result)
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	case FormatJUnit:
		return writeJUnit(w, result)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// WriteResultFile writes result to path, choosing the format by extension.
func WriteResultFile(path string, result *orchestrator.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if err := WriteResult(f, FormatForPath(path), result); err != nil {
		f.Close()
		return fmt.Errorf("failed to write result: %w", err)
	}
	return f.Close()
}

// JUnitTestSuites represents the root element containing all test suites
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite represents a JUnit test suite
type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
	SystemOut string          `xml:"system-out,omitempty"`
}

// JUnitTestCase represents a JUnit test case
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
}

// JUnitFailure represents a JUnit test failure
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

func writeJUnit(w io.Writer, result *orchestrator.Result) error {
	name := result.Name
	if name == "" {
		name = "surge"
	}

	suite := JUnitTestSuite{
		Name:      name,
		Time:      result.Duration.Seconds(),
		Timestamp: result.StartTime.Format("2006-01-02T15:04:05Z07:00"),
	}

	for _, t := range result.Thresholds {
		tc := JUnitTestCase{
			Name:      fmt.Sprintf("%s %s", t.Metric, t.Expression),
			Classname: name,
		}
		if !t.Passed {
			msg := t.Message
			if msg == "" {
				msg = fmt.Sprintf("actual: %s", t.Value)
			}
			tc.Failure = &JUnitFailure{Message: msg, Type: "ThresholdFailure", Content: msg}
			suite.Failures++
		}
		suite.TestCases = append(suite.TestCases, tc)
	}

	if result.Aborted {
		suite.Errors++
		suite.TestCases = append(suite.TestCases, JUnitTestCase{
			Name:      "run completed",
			Classname: name,
			Failure:   &JUnitFailure{Message: "run aborted before the schedule ended", Type: "Aborted"},
		})
	}
	suite.Tests = len(suite.TestCases)

	if result.Metrics != nil {
		suite.SystemOut = fmt.Sprintf("run %s: %d requests, %d failed, p95 %s",
			result.RunID, result.Metrics.TotalRequests, result.Metrics.FailedRequests,
			formatDurationShort(result.Metrics.Latency.P95))
	}

	out, err := xml.MarshalIndent(JUnitTestSuites{TestSuites: []JUnitTestSuite{suite}}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal junit report: %w", err)
	}
	if _, err := io.WriteString(w, xml.Header+string(out)+"\n"); err != nil {
		return err
	}
	return nil
}
