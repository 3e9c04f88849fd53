package segmentation

import (
	"math"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/surfelscan/surfelseg/utils"
)

// ShapeType selects the primitive fit to every cluster.
type ShapeType string

// The shape types a segmenter can fit.
const (
	LineShapeType  ShapeType = "line"
	PlaneShapeType ShapeType = "plane"
)

// Config holds the tunables of a segmentation run. Angles are in degrees and distances in the
// units of the input positions.
type Config struct {
	ShapeType                ShapeType `json:"shape_type"`
	InitializeHierarchically bool      `json:"initialize_hierarchically"`

	MinClusterPoints   int     `json:"min_cluster_points"`
	MaxClusters        int     `json:"max_clusters"`
	MinClusters        int     `json:"min_clusters"`
	MinClusterCoverage float64 `json:"min_cluster_coverage"`

	// membership thresholds
	MaxClusterShapeDistance float64 `json:"max_cluster_shape_distance"`
	MaxClusterNormalAngle   float64 `json:"max_cluster_normal_angle"`

	MaxNeighbors        int     `json:"max_neighbors"`
	MaxNeighborDistance float64 `json:"max_neighbor_distance"`

	// pair creation thresholds
	MaxPairCentroidDistance float64 `json:"max_pair_centroid_distance"`
	MaxPairShapeDistance    float64 `json:"max_pair_shape_distance"`
	MaxPairNormalAngle      float64 `json:"max_pair_normal_angle"`

	MinPairAffinity      float64 `json:"min_pair_affinity"`
	MinPairAffinityRatio float64 `json:"min_pair_affinity_ratio"`

	MaxRansacIterations     int `json:"max_ransac_iterations"`
	MaxRefinementIterations int `json:"max_refinement_iterations"`

	SilhouettePointsOnly bool `json:"silhouette_points_only"`

	RandomSeed int64 `json:"random_seed"`
	// CoverageCellSize is the grid resolution of Cluster.Coverage; 0 means MaxNeighborDistance.
	CoverageCellSize float64 `json:"coverage_cell_size"`
	// MaxClusterRecords caps the clusters alive at once in one chunk; 0 means unlimited.
	MaxClusterRecords int `json:"max_cluster_records"`
}

// DefaultConfig returns the configuration used for any option left unset.
func DefaultConfig() Config {
	return Config{
		ShapeType:                PlaneShapeType,
		InitializeHierarchically: true,
		MinClusterPoints:         100,
		MinClusterCoverage:       0.1,
		MaxClusterShapeDistance:  0.05,
		MaxClusterNormalAngle:    30,
		MaxNeighbors:             16,
		MaxNeighborDistance:      0.25,
		MaxPairCentroidDistance:  0.25,
		MaxPairShapeDistance:     0.05,
		MaxPairNormalAngle:       20,
		MinPairAffinity:          0.5,
		MaxRansacIterations:      4,
		MaxRefinementIterations:  4,
		RandomSeed:               1,
	}
}

// ConvertAttributes decodes a string keyed attribute map on top of the defaults.
func ConvertAttributes(attrs map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, errors.Wrap(err, "cannot decode segmentation attributes")
	}
	return &cfg, nil
}

// Attributes encodes cfg as the attribute map ConvertAttributes accepts.
func (cfg *Config) Attributes() (map[string]interface{}, error) {
	attrs := map[string]interface{}{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &attrs})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(*cfg); err != nil {
		return nil, errors.Wrap(err, "cannot encode segmentation attributes")
	}
	attrs["shape_type"] = string(cfg.ShapeType)
	return attrs, nil
}

// CheckValid reports every invalid option at once.
func (cfg *Config) CheckValid() error {
	var errs error
	invalid := func(option string, value interface{}, reason string) {
		errs = multierr.Append(errs, &ConfigError{Option: option, Value: value, Reason: reason})
	}
	positive := func(option string, value float64) {
		if !(value > 0) || math.IsInf(value, 1) {
			invalid(option, value, "must be a positive number")
		}
	}
	angle := func(option string, value float64) {
		if !(value > 0 && value <= 180) {
			invalid(option, value, "must be in degrees, in (0, 180]")
		}
	}
	unit := func(option string, value float64) {
		if !(value >= 0 && value <= 1) {
			invalid(option, value, "must be between 0 and 1")
		}
	}
	nonNegative := func(option string, value int) {
		if value < 0 {
			invalid(option, value, "cannot be less than 0")
		}
	}

	switch cfg.ShapeType {
	case LineShapeType, PlaneShapeType:
	default:
		invalid("shape_type", cfg.ShapeType, `must be "line" or "plane"`)
	}
	if cfg.MinClusterPoints < 1 {
		invalid("min_cluster_points", cfg.MinClusterPoints, "must be at least 1")
	}
	nonNegative("max_clusters", cfg.MaxClusters)
	nonNegative("min_clusters", cfg.MinClusters)
	if cfg.MaxClusters > 0 && cfg.MinClusters > cfg.MaxClusters {
		invalid("min_clusters", cfg.MinClusters, "cannot exceed max_clusters")
	}
	unit("min_cluster_coverage", cfg.MinClusterCoverage)
	positive("max_cluster_shape_distance", cfg.MaxClusterShapeDistance)
	angle("max_cluster_normal_angle", cfg.MaxClusterNormalAngle)
	if cfg.MaxNeighbors < 1 {
		invalid("max_neighbors", cfg.MaxNeighbors, "must be at least 1")
	}
	positive("max_neighbor_distance", cfg.MaxNeighborDistance)
	positive("max_pair_centroid_distance", cfg.MaxPairCentroidDistance)
	positive("max_pair_shape_distance", cfg.MaxPairShapeDistance)
	angle("max_pair_normal_angle", cfg.MaxPairNormalAngle)
	unit("min_pair_affinity", cfg.MinPairAffinity)
	unit("min_pair_affinity_ratio", cfg.MinPairAffinityRatio)
	nonNegative("max_ransac_iterations", cfg.MaxRansacIterations)
	nonNegative("max_refinement_iterations", cfg.MaxRefinementIterations)
	if !(cfg.CoverageCellSize >= 0) || math.IsInf(cfg.CoverageCellSize, 1) {
		invalid("coverage_cell_size", cfg.CoverageCellSize, "must be 0 or a positive number")
	}
	nonNegative("max_cluster_records", cfg.MaxClusterRecords)
	return errs
}

// params is a Config resolved for the hot paths: angles in radians and defaults applied.
type params struct {
	kind ShapeKind

	minClusterPoints   int
	maxClusters        int
	minClusters        int
	minClusterCoverage float64
	coverageCellSize   float64

	maxShapeDistance float64
	maxNormalAngle   float64

	maxPairCentroidDistance float64
	maxPairShapeDistance    float64
	maxPairNormalAngle      float64
	minPairAffinity         float64
	minPairAffinityRatio    float64

	maxRansacIterations int
}

func newParams(cfg *Config) params {
	kind := ShapePlane
	if cfg.ShapeType == LineShapeType {
		kind = ShapeLine
	}
	cell := cfg.CoverageCellSize
	if cell == 0 {
		cell = cfg.MaxNeighborDistance
	}
	return params{
		kind:                    kind,
		minClusterPoints:        cfg.MinClusterPoints,
		maxClusters:             cfg.MaxClusters,
		minClusters:             cfg.MinClusters,
		minClusterCoverage:      cfg.MinClusterCoverage,
		coverageCellSize:        cell,
		maxShapeDistance:        cfg.MaxClusterShapeDistance,
		maxNormalAngle:          utils.DegToRad(cfg.MaxClusterNormalAngle),
		maxPairCentroidDistance: cfg.MaxPairCentroidDistance,
		maxPairShapeDistance:    cfg.MaxPairShapeDistance,
		maxPairNormalAngle:      utils.DegToRad(cfg.MaxPairNormalAngle),
		minPairAffinity:         cfg.MinPairAffinity,
		minPairAffinityRatio:    cfg.MinPairAffinityRatio,
		maxRansacIterations:     cfg.MaxRansacIterations,
	}
}
