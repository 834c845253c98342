package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/target/taskmanager-api/internal/domain/model"
	"github.com/target/taskmanager-api/internal/service"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func checkOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (valid options: text, json, yaml)", format)
	}
}

// render writes v as JSON or YAML, or the result of text for the text
// format. A nil text falls back to YAML.
func render(w io.Writer, format string, v any, text func() string) error {
	switch {
	case format == outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case format == outputText && text != nil:
		_, err := fmt.Fprintln(w, text())
		return err
	default:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
}

func viewText(v *model.JobView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job:    %s\nStatus: %s", v.TaskID, v.Status)
	if v.Result != nil {
		fmt.Fprintf(&b, "\nResult: %s", *v.Result)
	}
	if v.Location != "" {
		fmt.Fprintf(&b, "\nURL:    %s", v.Location)
	}
	for _, e := range v.Errors {
		fmt.Fprintf(&b, "\nError:  %s", e)
	}
	return b.String()
}

func writeStatsTable(w io.Writer, rows []statsRow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tPENDING\tSTARTED\tSUCCESS\tFAILURE\tTOTAL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", r.Kind, r.Pending, r.Started, r.Success, r.Failure, r.Total)
	}
	return tw.Flush()
}

func writeReport(w io.Writer, report service.ReapReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tROWS")
	steps := make([]string, 0, len(report))
	for step := range report {
		steps = append(steps, step)
	}
	slices.Sort(steps)
	for _, step := range steps {
		fmt.Fprintf(tw, "%s\t%d\n", step, report[step])
	}
	fmt.Fprintf(tw, "total\t%d\n", report.Total())
	return tw.Flush()
}

func writeSeeded(w io.Writer, tasks map[string]int64) error {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	slices.Sort(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK ID\tNAME")
	for _, name := range names {
		fmt.Fprintf(tw, "%d\t%s\n", tasks[name], name)
	}
	return tw.Flush()
}

func printPending(w io.Writer, pending []string) error {
	if len(pending) == 0 {
		_, err := fmt.Fprintln(w, "No pending migrations")
		return err
	}
	_, err := fmt.Fprintf(w, "Pending migrations:\n  %s\n", strings.Join(pending, "\n  "))
	return err
}
