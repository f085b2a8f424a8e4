package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"boundq/internal/check"
	"boundq/internal/runner"
)

// ExportCSV writes outcomes in a JMeter-compatible layout.
// Schema: timeStamp,elapsed,label,responseCode,responseMessage,threadName,dataType,success,failureMessage,bytes,sentBytes,grpThreads,allThreads,URL,Latency,IdleTime,Connect
func ExportCSV(res *runner.Result, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{
		"timeStamp", "elapsed", "label", "responseCode", "responseMessage",
		"threadName", "dataType", "success", "failureMessage", "bytes",
		"sentBytes", "grpThreads", "allThreads", "URL", "Latency", "IdleTime", "Connect",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	threads := strconv.Itoa(res.Config.Concurrency)
	for _, o := range res.Outcomes {
		failure := ""
		if !o.Success() {
			failure = o.Reason.String()
			if o.Error != "" {
				failure += ": " + o.Error
			}
		}

		record := []string{
			strconv.FormatInt(o.Started.UnixMilli(), 10),
			strconv.FormatInt(o.Elapsed.Milliseconds(), 10),
			"boundq",
			statusCode(o.StatusCode),
			http.StatusText(o.StatusCode),
			"attempt-" + strconv.Itoa(o.Seq),
			"text",
			strconv.FormatBool(o.Success()),
			failure,
			strconv.FormatInt(o.Bytes, 10),
			"0",
			threads,
			threads,
			res.Config.Target,
			strconv.FormatInt(o.Elapsed.Milliseconds(), 10),
			strconv.FormatInt(o.QueueWait.Milliseconds(), 10),
			"0", // connect time is part of elapsed
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// ExportJSON writes the raw outcomes.
func ExportJSON(res *runner.Result, filename string) error {
	return writeJSON(filename, res.Outcomes)
}

// ExportSummary writes config and summary to <prefix>_summary.json.
func ExportSummary(res *runner.Result, prefix string) error {
	return writeJSON(prefix+"_summary.json", struct {
		Config  runner.Config  `json:"config"`
		Summary runner.Summary `json:"summary"`
	}{res.Config, res.Summary})
}

// ExportAll writes every report for prefix and returns the file names.
func ExportAll(res *runner.Result, prefix string) ([]string, error) {
	files := []string{prefix + ".csv", prefix + ".json", prefix + "_summary.json"}
	if err := ExportCSV(res, files[0]); err != nil {
		return nil, fmt.Errorf("export csv: %w", err)
	}
	if err := ExportJSON(res, files[1]); err != nil {
		return nil, fmt.Errorf("export json: %w", err)
	}
	if err := ExportSummary(res, prefix); err != nil {
		return nil, fmt.Errorf("export summary: %w", err)
	}
	return files, nil
}

// ExportChecks writes a suite result as JSON.
func ExportChecks(res *check.SuiteResult, filename string) error {
	return writeJSON(filename, struct {
		*check.SuiteResult
		SuccessRate float64 `json:"success_rate"`
	}{res, res.SuccessRate()})
}

func writeJSON(filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

func statusCode(code int) string {
	if code == 0 {
		return ""
	}
	return strconv.Itoa(code)
}
