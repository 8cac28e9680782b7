package cmd

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/urbansense/sview-trainer/dataset"
	"github.com/urbansense/sview-trainer/partition"
)

type Config struct {
	Mode               string
	TableFile          string
	LabelName          string
	ConstraintName     string
	LabelOffset        int
	FeaturesFile       string
	FeaturesName       string
	SplitKind          string
	PartitionFile      string
	GeneratePartitions bool
	Folds              int
	FoldIndex          int
	TrainFraction      float64
	ValidationFraction float64
	TrainKeep          float64
	HeldOutClasses     string
	Seed               int64
	BatchSize          int
	Epochs             int
	Soften             float64
	NormalizeMean      float64
	NormalizeStd       float64
	ModelFile          string
	PredictionsFile    string
	OutputFormat       string
	OutputFile         string
	Labels             string
	LabelMap           map[string]string
	PrometheusConfig   PrometheusConfig
	InfluxDBConfig     InfluxDBConfig

	MemoryMonitoringEnabled  bool
	MemoryMonitoringInterval int
	MemoryMonitoringFile     string

	splitKind partition.Kind
	heldOut   []int
}

func (c *Config) Validate() error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	// validate specific
	switch c.Mode {
	case "partition":
		return c.validatePartition()
	case "train":
		return c.validateTrain()
	case "evaluate":
		return c.validateEvaluate()
	default:
		return errors.Errorf("unrecognized mode %q", c.Mode)
	}
}

func (c *Config) validateCommon() error {
	if c.TableFile == "" {
		return errors.Errorf("a label table file must be provided")
	}

	if c.LabelName == "" {
		return errors.Errorf("the label column must be set")
	}

	if c.PartitionFile == "" {
		return errors.Errorf("a partition file must be provided")
	}

	kind, err := partition.ParseKind(c.SplitKind)
	if err != nil {
		return err
	}
	c.splitKind = kind

	switch kind {
	case partition.KFold:
		if c.Folds < 2 {
			return errors.Errorf("kfold splits need at least 2 folds, got %d", c.Folds)
		}
		if c.FoldIndex < 0 || c.FoldIndex >= c.Folds {
			return errors.Errorf("fold index %d out of range for %d folds", c.FoldIndex, c.Folds)
		}
		if c.ValidationFraction < 0 || c.ValidationFraction >= 1 {
			return errors.Errorf("validation fraction %v must be inside [0, 1)", c.ValidationFraction)
		}
	case partition.TrainTest:
		if c.TrainFraction <= 0 || c.TrainFraction >= 1 {
			return errors.Errorf("train fraction %v must be inside (0, 1)", c.TrainFraction)
		}
	case partition.TrainValTest:
		if c.TrainFraction <= 0 || c.TrainFraction >= 1 {
			return errors.Errorf("train fraction %v must be inside (0, 1)", c.TrainFraction)
		}
		if c.ValidationFraction <= 0 || c.ValidationFraction >= 1 {
			return errors.Errorf("validation fraction %v must be inside (0, 1)", c.ValidationFraction)
		}
		if c.TrainFraction+c.ValidationFraction > 1 {
			return errors.Errorf("train and validation fractions sum to %v",
				c.TrainFraction+c.ValidationFraction)
		}
	case partition.TrainTestByClass:
		heldOut, err := parseClassList(c.HeldOutClasses)
		if err != nil {
			return err
		}
		if len(heldOut) == 0 {
			return errors.Errorf("held-out-class splits need at least one held-out class")
		}
		c.heldOut = heldOut
	}

	if kind != partition.KFold && c.FoldIndex != 0 {
		return errors.Errorf("fold index only applies to kfold splits")
	}

	if c.TrainKeep <= 0 || c.TrainKeep > 1 {
		return errors.Errorf("train keep fraction %v must be inside (0, 1]", c.TrainKeep)
	}

	switch c.OutputFormat {
	case "text", "":
		c.OutputFormat = "text"
	case "json":
	default:
		return errors.Errorf("unsupported output format %q, must be one of [text, json]",
			c.OutputFormat)

	}

	influxToken, influxTokenPresent := os.LookupEnv("INFLUXDB_TOKEN")
	if influxTokenPresent {
		c.InfluxDBConfig.Token = influxToken
	}

	c.PrometheusConfig.Enabled = c.PrometheusConfig.PushURL != ""
	c.InfluxDBConfig.Enabled = c.InfluxDBConfig.URL != ""

	return nil
}

func (c Config) validatePartition() error {
	return nil
}

func (c Config) validateTrain() error {
	if c.FeaturesFile == "" {
		return errors.Errorf("a feature store file must be provided")
	}

	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be set and larger than 0")
	}

	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be set and larger than 0")
	}

	if c.ModelFile == "" {
		return errors.Errorf("a model output file must be provided")
	}

	if c.Soften < 0 || c.Soften >= 1 {
		return errors.Errorf("soften mass %v must be inside [0, 1)", c.Soften)
	}

	return nil
}

func (c Config) validateEvaluate() error {
	if c.FeaturesFile == "" {
		return errors.Errorf("a feature store file must be provided")
	}

	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be set and larger than 0")
	}

	if c.ModelFile == "" {
		return errors.Errorf("a model file must be provided")
	}

	if c.PredictionsFile == "" {
		return errors.Errorf("a predictions output file must be provided")
	}

	return nil
}

// resolveSeed replaces a non-positive seed with one derived from the wall
// clock and logs it, so the run can be replayed by passing the logged value.
func (c *Config) resolveSeed() {
	if c.Seed > 0 {
		return
	}
	c.Seed = time.Now().UnixNano()
	log.WithFields(log.Fields{"seed": c.Seed}).Info("Derived seed from wall clock")
}

// plan translates the validated split parameters into a partition plan.
// Validate must have run first so the kind and held-out classes are parsed.
func (c *Config) plan() partition.Plan {
	return partition.Plan{
		Kind:               c.splitKind,
		Folds:              c.Folds,
		FoldIndex:          c.FoldIndex,
		TrainFraction:      c.TrainFraction,
		ValidationFraction: c.ValidationFraction,
		TrainKeep:          c.TrainKeep,
		HeldOut:            c.heldOut,
		Seed:               c.Seed,
	}
}

// normalization returns the feature normalization the flags describe, or nil
// when the standard deviation is zeroed to disable it.
func (c *Config) normalization() *dataset.Normalization {
	if c.NormalizeStd == 0 {
		return nil
	}
	return &dataset.Normalization{Mean: float32(c.NormalizeMean), Std: float32(c.NormalizeStd)}
}

func parseClassList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var out []int
	for _, field := range strings.Split(s, ",") {
		class, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, errors.Errorf("bad held-out class %q", field)
		}
		out = append(out, class)
	}
	return out, nil
}

func (c *Config) parseLabels() {
	result := make(map[string]string)
	pairs := strings.Split(c.Labels, ",")

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2) // SplitN to make sure we only split on the first "="
		if len(kv) == 2 {
			result[kv[0]] = kv[1]
		}
	}

	c.LabelMap = result
}
