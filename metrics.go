package main

// Metrics holds classification quality on one split. Precision, recall
// and F1 are weighted by class support, matching how multi-class fallacy
// results are usually reported.
type Metrics struct {
	Accuracy  float64 `json:"accuracy" msgpack:"accuracy"`
	Precision float64 `json:"precision" msgpack:"precision"`
	Recall    float64 `json:"recall" msgpack:"recall"`
	F1        float64 `json:"f1" msgpack:"f1"`
}

// ComputeMetrics compares predictions against gold labels. Per-class
// precision and recall use 0 for empty denominators; the weighted
// averages weight each class by its gold support.
func ComputeMetrics(preds, golds []int, numClasses int) Metrics {
	if len(preds) != len(golds) {
		panic("metrics: predictions and golds have different lengths")
	}
	if len(golds) == 0 {
		return Metrics{}
	}

	tp := make([]float64, numClasses)
	fp := make([]float64, numClasses)
	fn := make([]float64, numClasses)
	support := make([]float64, numClasses)

	correct := 0
	for i := range golds {
		g, p := golds[i], preds[i]
		support[g]++
		if p == g {
			correct++
			tp[g]++
		} else {
			fp[p]++
			fn[g]++
		}
	}

	var precision, recall, f1 float64
	total := float64(len(golds))
	for c := 0; c < numClasses; c++ {
		if support[c] == 0 {
			continue
		}

		var pc, rc float64
		if tp[c]+fp[c] > 0 {
			pc = tp[c] / (tp[c] + fp[c])
		}
		if tp[c]+fn[c] > 0 {
			rc = tp[c] / (tp[c] + fn[c])
		}

		var fc float64
		if pc+rc > 0 {
			fc = 2 * pc * rc / (pc + rc)
		}

		w := support[c] / total
		precision += w * pc
		recall += w * rc
		f1 += w * fc
	}

	return Metrics{
		Accuracy:  float64(correct) / total,
		Precision: precision,
		Recall:    recall,
		F1:        f1,
	}
}
