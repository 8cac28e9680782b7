package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/urbansense/sview-trainer/dataset"
)

// Results summarizes one full prediction pass over a partition. Absolute
// error counts ordinal class positions, so a decile predicted one off
// scores 1.
type Results struct {
	Samples     int
	MAE         float64
	Accuracy    float64
	ClassCounts map[int]int
	Predictions []int
}

// evaluatePass runs the model over a full iterator pass and aggregates
// ordinal error metrics. The predictions come back in pass order, aligned
// with the partition for export.
func evaluatePass(model *CentroidModel, it *dataset.Iterator, classes []int) (Results, error) {
	out := Results{ClassCounts: make(map[int]int)}
	var absErr float64
	var hits int

	for {
		batch, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Results{}, err
		}

		predicted := model.Predict(batch)
		for k, pred := range predicted {
			truth := classValue(classes, batch.Labels[k])
			absErr += math.Abs(float64(pred - truth))
			if pred == truth {
				hits++
			}
			out.ClassCounts[truth]++
			out.Predictions = append(out.Predictions, pred)
			out.Samples++
		}
	}

	if out.Samples > 0 {
		out.MAE = absErr / float64(out.Samples)
		out.Accuracy = float64(hits) / float64(out.Samples)
	}
	return out, nil
}

func (r Results) WriteTextTo(w io.Writer) (int64, error) {
	b := strings.Builder{}

	classes := make([]int, 0, len(r.ClassCounts))
	for class := range r.ClassCounts {
		classes = append(classes, class)
	}
	sort.Ints(classes)
	for _, class := range classes {
		b.WriteString(
			fmt.Sprintf("class %d: %d\n", class, r.ClassCounts[class]),
		)
	}

	n, err := w.Write([]byte(fmt.Sprintf(
		"Results\nSamples: %d\nMAE: %f\nAccuracy: %f\n%s",
		r.Samples, r.MAE, r.Accuracy, b.String())))
	return int64(n), err
}

type resultsJSON struct {
	Metadata resultsJSONMetadata `json:"metadata"`
	Metrics  resultsJSONMetrics  `json:"metrics"`
	Classes  map[string]int      `json:"classCounts"`
}

type resultsJSONMetadata struct {
	Samples int `json:"samples"`
}

type resultsJSONMetrics struct {
	MAE      float64 `json:"mae"`
	Accuracy float64 `json:"accuracy"`
}

func (r Results) WriteJSONTo(w io.Writer) (int, error) {
	obj := resultsJSON{
		Metadata: resultsJSONMetadata{
			Samples: r.Samples,
		},
		Metrics: resultsJSONMetrics{
			MAE:      r.MAE,
			Accuracy: r.Accuracy,
		},
		Classes: map[string]int{},
	}

	for class, count := range r.ClassCounts {
		obj.Classes[fmt.Sprintf("%d", class)] = count
	}

	bytes, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return 0, err
	}

	return w.Write(bytes)
}

// writeResults renders the pass results in the configured output format,
// to stdout and additionally to the output file when one is set.
func writeResults(cfg *Config, result Results) error {
	var w io.Writer = os.Stdout
	if cfg.OutputFile != "" {
		f, err := os.Create(cfg.OutputFile)
		if err != nil {
			return errors.Wrapf(err, "create output file %s", cfg.OutputFile)
		}
		defer f.Close()
		w = io.MultiWriter(os.Stdout, f)
	}

	if cfg.OutputFormat == "json" {
		_, err := result.WriteJSONTo(w)
		return err
	}
	_, err := result.WriteTextTo(w)
	return err
}

// RunSummary is the durable record of one training or evaluation run,
// written to ./results/<run id>.json and pushed to the configured metric
// sinks.
type RunSummary struct {
	RunID             string    `json:"run_id"`
	Command           string    `json:"command"`
	Dataset           string    `json:"dataset_file"`
	SplitKind         string    `json:"split_kind"`
	Timestamp         string    `json:"timestamp"`
	MAE               float64   `json:"mae"`
	Accuracy          float64   `json:"accuracy"`
	TrainSamples      int       `json:"train_samples"`
	ValidationSamples int       `json:"validation_samples"`
	TestSamples       int       `json:"test_samples"`
	Epochs            int       `json:"epochs"`
	BatchSize         int       `json:"batch_size"`
	MAEHistory        []float64 `json:"mae_history,omitempty"`
}

func writeRunSummary(cfg *Config, sum *RunSummary) error {
	var resultMap map[string]interface{}

	jsonData, err := json.Marshal(sum)
	if err != nil {
		return errors.Wrap(err, "marshal run summary")
	}

	if err := json.Unmarshal(jsonData, &resultMap); err != nil {
		return errors.Wrap(err, "convert run summary to map")
	}

	if cfg.LabelMap != nil {
		for key, value := range cfg.LabelMap {
			resultMap[key] = value
		}
	}

	data, err := json.MarshalIndent(resultMap, "", "    ")
	if err != nil {
		return errors.Wrap(err, "marshal run summary")
	}

	os.Mkdir("./results", 0755)

	if err := os.WriteFile(fmt.Sprintf("./results/%s.json", sum.RunID), data, 0644); err != nil {
		return errors.Wrapf(err, "write run summary %s", sum.RunID)
	}

	return nil
}
