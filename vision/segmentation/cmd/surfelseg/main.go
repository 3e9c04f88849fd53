// Package main synthesizes surfel scenes, segments them and prints a report.
package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/fatih/color"
	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/surfelscan/surfelseg/logging"
	pc "github.com/surfelscan/surfelseg/pointcloud"
	"github.com/surfelscan/surfelseg/utils"
	"github.com/surfelscan/surfelseg/vision/segmentation"
)

const (
	// Flags.
	flagConfig     = "config"
	flagDebug      = "debug"
	flagLogFile    = "log-file"
	flagPlot       = "plot"
	flagBins       = "bins"
	flagParallel   = "parallel"
	flagLeafPoints = "leaf-points"
	flagScene      = "scene"
	flagPoints     = "points"
	flagNoise      = "noise"
	flagSceneSeed  = "scene-seed"

	scenePlane = "plane"
	sceneRoom  = "room"
	sceneEdges = "edges"
)

func main() {
	var logger logging.Logger

	app := &cli.App{
		Name:  "surfelseg",
		Usage: "segment surfel point clouds into planar and linear patches",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load segmentation attributes from a YAML or JSON `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging and tag the stage logs of the run with a debug key",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also append JSON logs to a rotated `FILE`",
			},
		},
		Before: func(c *cli.Context) error {
			level := logging.WARN
			if c.Bool(flagDebug) {
				level = logging.DEBUG
			}
			switch {
			case c.String(flagLogFile) != "":
				logger = logging.NewFileAppendingLogger("surfelseg", c.String(flagLogFile), level)
			case level == logging.DEBUG:
				logger = logging.NewDebugLogger("surfelseg")
			default:
				logger = logging.NewLogger("surfelseg")
				logger.SetLevel(level)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if logger == nil {
				return nil
			}
			//nolint:errcheck
			logger.Sync()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "segment",
				Usage: "synthesize a scene and segment it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagScene,
						Value: sceneRoom,
						Usage: fmt.Sprintf("scene to synthesize: %s, %s or %s", scenePlane, sceneRoom, sceneEdges),
					},
					&cli.IntFlag{
						Name:  flagPoints,
						Value: 3000,
						Usage: "samples per surface",
					},
					&cli.Float64Flag{
						Name:  flagNoise,
						Value: 0.005,
						Usage: "maximum offset of a sample from its surface",
					},
					&cli.Int64Flag{
						Name:  flagSceneSeed,
						Value: 1,
						Usage: "seed of the scene generator",
					},
					&cli.IntFlag{
						Name:  flagLeafPoints,
						Value: 20000,
						Usage: "maximum samples per octree chunk",
					},
					&cli.IntFlag{
						Name:  flagParallel,
						Usage: "chunks segmented at once, 0 for one per CPU",
					},
					&cli.IntFlag{
						Name:  flagBins,
						Value: 10,
						Usage: "buckets of the cluster size histogram, 0 to skip it",
					},
					&cli.StringFlag{
						Name:  flagPlot,
						Usage: "save a top-down scatter of the clusters to `FILE` (png, svg or pdf)",
					},
				},
				Action: func(c *cli.Context) error {
					return segmentAction(c, logger)
				},
			},
			{
				Name:  "defaults",
				Usage: "print the effective segmentation attributes as YAML",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c.String(flagConfig))
					if err != nil {
						return err
					}
					attrs, err := cfg.Attributes()
					if err != nil {
						return err
					}
					out, err := yaml.Marshal(attrs)
					if err != nil {
						return err
					}
					fmt.Fprint(c.App.Writer, string(out))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		//nolint:errcheck
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig decodes the attribute file at path over the defaults. JSON files parse as YAML.
func loadConfig(path string) (*segmentation.Config, error) {
	if path == "" {
		cfg := segmentation.DefaultConfig()
		return &cfg, nil
	}
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var attrs map[string]interface{}
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, errors.Wrapf(err, "cannot parse %s", path)
	}
	return segmentation.ConvertAttributes(attrs)
}

func synthesize(scene string, n int, noise float64, seed int64) (*pc.BasicSource, error) {
	r := rand.New(rand.NewSource(seed))
	switch scene {
	case scenePlane:
		return pc.NewBasicSourceFromSurfels(
			pc.SamplePlane(r, r3.Vector{}, r3.Vector{X: 10}, r3.Vector{Y: 10}, n, noise),
		)
	case sceneRoom:
		return pc.NewBasicSourceFromSurfels(
			pc.SamplePlane(r, r3.Vector{}, r3.Vector{X: 4}, r3.Vector{Y: 4}, n, noise),
			pc.SamplePlane(r, r3.Vector{X: 5, Z: 0.5}, r3.Vector{Y: 4}, r3.Vector{Z: 3}, n, noise),
			pc.SamplePlane(r, r3.Vector{Y: 5, Z: 0.5}, r3.Vector{Z: 3}, r3.Vector{X: 4}, n, noise),
			pc.SampleScatter(r, r3.Vector{X: -1, Y: -1, Z: 0.5}, r3.Vector{X: 3, Y: 3, Z: 2}, n/20),
		)
	case sceneEdges:
		return pc.NewBasicSourceFromSurfels(
			pc.SampleLine(r, r3.Vector{}, r3.Vector{X: 3}, r3.Vector{Z: 1}, n/4, noise/2),
			pc.SampleLine(r, r3.Vector{Y: 2}, r3.Vector{Y: 2, Z: 3}, r3.Vector{X: 1}, n/4, noise/2),
			pc.SamplePlane(r, r3.Vector{X: 6}, r3.Vector{X: 3}, r3.Vector{Y: 3}, n, noise),
		)
	}
	return nil, errors.Errorf("unknown scene %q", scene)
}

func segmentAction(c *cli.Context, logger logging.Logger) error {
	cfg, err := loadConfig(c.String(flagConfig))
	if err != nil {
		return err
	}
	if c.String(flagScene) == sceneEdges && c.String(flagConfig) == "" {
		cfg.ShapeType = segmentation.LineShapeType
		cfg.SilhouettePointsOnly = true
		cfg.InitializeHierarchically = false
		cfg.MinClusterPoints = 20
	}

	src, err := synthesize(c.String(flagScene), c.Int(flagPoints), c.Float64(flagNoise), c.Int64(flagSceneSeed))
	if err != nil {
		return err
	}
	segmenter, err := segmentation.NewSegmenter(*cfg, logger.Sublogger("segmentation"),
		segmentation.WithParallelism(c.Int(flagParallel)))
	if err != nil {
		return err
	}

	ctx := context.Background()
	if c.Bool(flagDebug) {
		ctx = logging.EnableDebugMode(ctx, "")
		logger.Infow("segmenting in debug mode", "debug_key", logging.GetName(ctx))
	}
	sink := segmentation.NewMemorySink()
	start := time.Now()
	results, err := segmenter.SegmentSource(ctx, src, c.Int(flagLeafPoints), sink)
	elapsed := time.Since(start)
	report(c, results, src.NPoints(), elapsed)
	if path := c.String(flagPlot); path != "" {
		if plotErr := plotGroups(path, src, results); plotErr != nil {
			logger.Warnw("cannot save plot", "path", path, "error", plotErr)
		}
	}
	return err
}

func report(c *cli.Context, results []*segmentation.ChunkResult, total int, elapsed time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.AppendHeader(table.Row{"Group", "Kind", "Points", "Tilt (deg)", "Affinity", "Coverage"})

	var sizes, chunkTimes []float64
	unclustered := 0
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, g := range res.Clusters() {
			sizes = append(sizes, float64(len(g.Indices)))
			t.AppendRow(table.Row{
				g.Name,
				g.Kind.String(),
				len(g.Indices),
				fmt.Sprintf("%.1f", tilt(g.Direction)),
				fmt.Sprintf("%.1f", g.TotalAffinity),
				fmt.Sprintf("%.2f", g.Coverage),
			})
		}
		unclustered += len(res.Unclustered().Indices)
		chunkTimes = append(chunkTimes, res.Stats.Elapsed.Seconds()*1000)
	}
	t.AppendFooter(table.Row{"unclustered", "", unclustered, "", "", ""})
	t.Render()

	fmt.Fprintf(c.App.Writer, "%d samples, %d chunks, %d clusters in %v\n", total, len(results), len(sizes), elapsed)
	summary := table.NewWriter()
	summary.SetOutputMirror(c.App.Writer)
	summary.AppendHeader(table.Row{"Measure", "Min", "Median", "Mean", "Max", "Std dev"})
	summary.AppendRow(summarize("cluster size", sizes))
	summary.AppendRow(summarize("chunk time (ms)", chunkTimes))
	summary.Render()

	if bins := c.Int(flagBins); bins > 0 && len(sizes) > 0 {
		fmt.Fprintln(c.App.Writer, "cluster sizes:")
		//nolint:errcheck
		histogram.Fprint(c.App.Writer, histogram.Hist(bins, sizes), histogram.Linear(40))
	}
}

// tilt is the angle between a direction and the vertical axis.
func tilt(direction r3.Vector) float64 {
	return utils.RadToDeg(math.Acos(utils.Clamp(math.Abs(direction.Z), 0, 1)))
}

// summarize returns one report row; measures without data are left blank.
func summarize(name string, data stats.Float64Data) table.Row {
	if data.Len() == 0 {
		return table.Row{name, "-", "-", "-", "-", "-"}
	}
	sort.Float64s(data)
	//nolint:errcheck
	median, _ := data.Median()
	//nolint:errcheck
	mean, _ := data.Mean()
	//nolint:errcheck
	stdDev, _ := data.StandardDeviation()
	format := func(v float64) string { return fmt.Sprintf("%.1f", v) }
	return table.Row{name, format(data[0]), format(median), format(mean), format(data[data.Len()-1]), format(stdDev)}
}
