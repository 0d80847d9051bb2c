package commands

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/jbctechsolutions/datasync/internal/application/datasync"
	"github.com/jbctechsolutions/datasync/internal/presentation/cli/output"
)

// ResultReport is the JSON form of a push or pull result.
type ResultReport struct {
	Direction      string            `json:"direction"`
	Additions      int               `json:"additions"`
	Replacements   int               `json:"replacements"`
	Deletions      int               `json:"deletions"`
	Skipped        int               `json:"skipped"`
	Successful     bool              `json:"successful"`
	FailedRequests []FailedRequest   `json:"failed_requests,omitempty"`
	LocalErrors    map[string]string `json:"local_errors,omitempty"`
}

// FailedRequest is one request the service answered with an error status.
type FailedRequest struct {
	URI        string `json:"uri"`
	StatusCode int    `json:"status_code"`
	Reason     string `json:"reason,omitempty"`
}

// newResultReport converts an engine result into its report form.
func newResultReport(direction string, r *datasync.Result) ResultReport {
	report := ResultReport{
		Direction:    direction,
		Additions:    r.Additions(),
		Replacements: r.Replacements(),
		Deletions:    r.Deletions(),
		Skipped:      r.Skipped(),
		Successful:   r.IsSuccessful(),
	}

	for uri, resp := range r.FailedRequests() {
		report.FailedRequests = append(report.FailedRequests, FailedRequest{
			URI:        uri,
			StatusCode: resp.StatusCode,
			Reason:     resp.ReasonPhrase,
		})
	}
	sort.Slice(report.FailedRequests, func(i, j int) bool {
		return report.FailedRequests[i].URI < report.FailedRequests[j].URI
	})

	if errs := r.LocalErrors(); len(errs) > 0 {
		report.LocalErrors = make(map[string]string, len(errs))
		for key, err := range errs {
			report.LocalErrors[key] = err.Error()
		}
	}
	return report
}

// printReports writes one or more result reports in the selected format.
func printReports(formatter *output.Formatter, reports ...ResultReport) error {
	if formatter.Format() == output.FormatJSON {
		if len(reports) == 1 {
			return formatter.JSON(reports[0])
		}
		return formatter.JSON(reports)
	}

	for _, r := range reports {
		table := output.TableData{
			Columns: []output.TableColumn{
				{Header: "Added", Align: output.AlignRight},
				{Header: "Replaced", Align: output.AlignRight},
				{Header: "Deleted", Align: output.AlignRight},
				{Header: "Skipped", Align: output.AlignRight},
				{Header: "Failed", Align: output.AlignRight},
			},
			Rows: [][]string{{
				strconv.Itoa(r.Additions),
				strconv.Itoa(r.Replacements),
				strconv.Itoa(r.Deletions),
				strconv.Itoa(r.Skipped),
				strconv.Itoa(len(r.FailedRequests) + len(r.LocalErrors)),
			}},
		}

		formatter.Header(r.Direction)
		if err := formatter.Table(table); err != nil {
			return err
		}

		for _, f := range r.FailedRequests {
			formatter.Error("%s: %d %s", f.URI, f.StatusCode, f.Reason)
		}
		keys := make([]string, 0, len(r.LocalErrors))
		for k := range r.LocalErrors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			formatter.Error("%s: %s", k, r.LocalErrors[k])
		}

		if r.Successful {
			formatter.Success("%s complete", r.Direction)
		} else {
			formatter.Warning("%s finished with failures; failed operations stay queued", r.Direction)
		}
		formatter.Println("")
	}
	return formatter.Err()
}

// reportsError turns unsuccessful results into a command error so the exit
// status reflects them.
func reportsError(reports ...ResultReport) error {
	failures := 0
	for _, r := range reports {
		failures += len(r.FailedRequests) + len(r.LocalErrors)
	}
	if failures > 0 {
		return fmt.Errorf("%d failure(s)", failures)
	}
	return nil
}
