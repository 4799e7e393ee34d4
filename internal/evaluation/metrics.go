package evaluation

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrEmptyValidationSet = errors.New("validation set is empty")

// ClassMetrics holds one class's scores.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// ConfidenceStats describes the top-class probability distribution.
type ConfidenceStats struct {
	Mean      float64 `json:"mean_confidence"`
	Std       float64 `json:"std_confidence"`
	Min       float64 `json:"min_confidence"`
	Max       float64 `json:"max_confidence"`
	HighRatio float64 `json:"high_confidence_ratio"`
	LowRatio  float64 `json:"low_confidence_ratio"`
}

// Report is the outcome of scoring one artifact.
type Report struct {
	VersionID         string                  `json:"version_id"`
	Accuracy          float64                 `json:"accuracy"`
	F1Macro           float64                 `json:"f1_score_macro"`
	F1Weighted        float64                 `json:"f1_score_weighted"`
	Precision         float64                 `json:"precision"`
	Recall            float64                 `json:"recall"`
	Labels            []string                `json:"labels"`
	PerClass          map[string]ClassMetrics `json:"per_class_metrics"`
	ConfusionMatrix   [][]int                 `json:"confusion_matrix"`
	Confidence        ConfidenceStats         `json:"confidence_stats"`
	TotalSamples      int                     `json:"total_samples"`
	ClassDistribution map[string]int          `json:"class_distribution"`
	EvaluatedAt       time.Time               `json:"timestamp"`
}

const (
	highConfidence = 0.8
	lowConfidence  = 0.5
)

// Compute scores predictions against ground truth. confidences holds the
// top-class probability per sample. Precision and recall treat 0/0 as 0.
// Macro averages run over classes present in either truth or prediction;
// weighted averages use true support.
func Compute(labels []string, yTrue, yPred []int, confidences []float64) (*Report, error) {
	n := len(yTrue)
	if n == 0 {
		return nil, ErrEmptyValidationSet
	}
	if len(yPred) != n || len(confidences) != n {
		return nil, fmt.Errorf("mismatched lengths: %d truth, %d predictions, %d confidences", n, len(yPred), len(confidences))
	}

	k := len(labels)
	cm := make([][]int, k)
	for i := range cm {
		cm[i] = make([]int, k)
	}

	correct := 0
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= k || p < 0 || p >= k {
			return nil, fmt.Errorf("class index out of range at sample %d", i)
		}
		cm[t][p]++
		if t == p {
			correct++
		}
	}

	r := &Report{
		Accuracy:          float64(correct) / float64(n),
		Labels:            append([]string(nil), labels...),
		PerClass:          make(map[string]ClassMetrics),
		ConfusionMatrix:   cm,
		TotalSamples:      n,
		ClassDistribution: make(map[string]int),
		Confidence:        confidenceStats(confidences),
	}

	var macroF1 float64
	present := 0
	for c := 0; c < k; c++ {
		support, predicted := 0, 0
		for j := 0; j < k; j++ {
			support += cm[c][j]
			predicted += cm[j][c]
		}
		tp := cm[c][c]

		precision := ratio(tp, predicted)
		recall := ratio(tp, support)
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}

		if support > 0 || predicted > 0 {
			macroF1 += f1
			present++
		}
		if support == 0 {
			continue
		}

		w := float64(support) / float64(n)
		r.F1Weighted += w * f1
		r.Precision += w * precision
		r.Recall += w * recall
		r.PerClass[labels[c]] = ClassMetrics{
			Precision: precision,
			Recall:    recall,
			F1:        f1,
			Support:   support,
		}
		r.ClassDistribution[labels[c]] = support
	}
	if present > 0 {
		r.F1Macro = macroF1 / float64(present)
	}

	return r, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func confidenceStats(conf []float64) ConfidenceStats {
	s := ConfidenceStats{Min: math.Inf(1), Max: math.Inf(-1)}
	high, low := 0, 0
	for _, c := range conf {
		s.Mean += c
		s.Min = math.Min(s.Min, c)
		s.Max = math.Max(s.Max, c)
		if c > highConfidence {
			high++
		}
		if c < lowConfidence {
			low++
		}
	}
	n := float64(len(conf))
	s.Mean /= n

	var variance float64
	for _, c := range conf {
		variance += (c - s.Mean) * (c - s.Mean)
	}
	s.Std = math.Sqrt(variance / n)
	s.HighRatio = float64(high) / n
	s.LowRatio = float64(low) / n
	return s
}

// Comparison is the difference between a baseline and a candidate.
type Comparison struct {
	BaselineVersion  string  `json:"baseline_version"`
	CandidateVersion string  `json:"candidate_version"`
	AccuracyDelta    float64 `json:"accuracy_delta"`
	F1Delta          float64 `json:"f1_delta"`
	Improved         bool    `json:"improved"`
}

// Compare reports candidate minus baseline. A nil baseline counts as zero.
func Compare(baseline, candidate *Report) Comparison {
	c := Comparison{CandidateVersion: candidate.VersionID}
	var baseAcc, baseF1 float64
	if baseline != nil {
		c.BaselineVersion = baseline.VersionID
		baseAcc, baseF1 = baseline.Accuracy, baseline.F1Weighted
	}
	c.AccuracyDelta = candidate.Accuracy - baseAcc
	c.F1Delta = candidate.F1Weighted - baseF1
	c.Improved = c.AccuracyDelta > 0
	return c
}
