package evaluation

import (
	"fmt"
	"strings"
	"time"
)

// FormatReport renders r as a plain-text report titled with name.
func FormatReport(name string, r *Report) string {
	var b strings.Builder

	ts := "unknown"
	if !r.EvaluatedAt.IsZero() {
		ts = r.EvaluatedAt.Format(time.RFC3339)
	}

	fmt.Fprintf(&b, "=== Model performance report: %s ===\n", name)
	fmt.Fprintf(&b, "Generated: %s\n", ts)
	fmt.Fprintf(&b, "Dataset size: %d samples\n", r.TotalSamples)

	b.WriteString("\n== Overall ==\n")
	fmt.Fprintf(&b, "Accuracy: %.4f\n", r.Accuracy)
	fmt.Fprintf(&b, "F1 score (weighted): %.4f\n", r.F1Weighted)
	fmt.Fprintf(&b, "F1 score (macro): %.4f\n", r.F1Macro)
	fmt.Fprintf(&b, "Precision: %.4f\n", r.Precision)
	fmt.Fprintf(&b, "Recall: %.4f\n", r.Recall)

	b.WriteString("\n== Per class ==\n")
	for _, label := range r.Labels {
		m, ok := r.PerClass[label]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", label)
		fmt.Fprintf(&b, "  Precision: %.4f\n", m.Precision)
		fmt.Fprintf(&b, "  Recall: %.4f\n", m.Recall)
		fmt.Fprintf(&b, "  F1 score: %.4f\n", m.F1)
		fmt.Fprintf(&b, "  Samples: %d\n", m.Support)
	}

	b.WriteString("\n== Confidence ==\n")
	fmt.Fprintf(&b, "Mean confidence: %.4f\n", r.Confidence.Mean)
	fmt.Fprintf(&b, "High confidence ratio (>80%%): %.2f%%\n", r.Confidence.HighRatio*100)
	fmt.Fprintf(&b, "Low confidence ratio (<50%%): %.2f%%\n", r.Confidence.LowRatio*100)

	return b.String()
}
