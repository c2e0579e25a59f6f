package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"syncq/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("report: unknown format %q", s)
}

// WriteSummary encodes s in the given format.
func WriteSummary(w io.Writer, s Summary, f Format) error {
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
}

// ExportSummary writes the summary to <prefix>_summary.<format>.
func ExportSummary(s Summary, prefix string, f Format) (string, error) {
	filename := fmt.Sprintf("%s_summary.%s", prefix, f)
	file, err := os.Create(filename)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := WriteSummary(file, s, f); err != nil {
		return "", err
	}
	return filename, nil
}

// ExportCSV writes one row per session.
func ExportCSV(results []session.Result, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	return writeCSV(f, results)
}

func writeCSV(out io.Writer, results []session.Result) error {
	w := csv.NewWriter(out)

	header := []string{
		"timeStamp", "session", "user", "iteration", "state", "errorClass",
		"error", "connectMs", "durationMs", "sent", "received",
		"protocolErrors", "discarded",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, res := range results {
		record := []string{
			strconv.FormatInt(res.Started.UnixMilli(), 10),
			res.ID,
			res.UserID,
			strconv.Itoa(res.Iteration),
			res.State.String(),
			string(res.Class),
			res.Error,
			strconv.FormatInt(res.ConnectTime.Milliseconds(), 10),
			strconv.FormatInt(res.Duration.Milliseconds(), 10),
			strconv.Itoa(res.Sent),
			strconv.Itoa(res.Received),
			strconv.Itoa(res.ProtocolErrors),
			strconv.Itoa(res.Discarded),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// ExportJSON writes the per-session results as a JSON array.
func ExportJSON(results []session.Result, filename string) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
