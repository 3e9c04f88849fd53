package main

import (
	"image/color"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	pc "github.com/surfelscan/surfelseg/pointcloud"
	"github.com/surfelscan/surfelseg/vision/segmentation"
)

// plotGroups saves a top-down scatter of every group, one color per cluster and gray for
// unclustered samples. The file type follows the extension of path.
func plotGroups(path string, src pc.Source, results []*segmentation.ChunkResult) error {
	p := plot.New()
	p.Title.Text = "surfel clusters (top view)"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	var unclustered plotter.XYs
	n := 0
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, g := range res.Clusters() {
			s, err := plotter.NewScatter(topView(src, g.Indices))
			if err != nil {
				return errors.Wrapf(err, "cannot plot %s", g.Name)
			}
			s.GlyphStyle.Color = plotutil.Color(n)
			s.GlyphStyle.Radius = vg.Points(1)
			p.Add(s)
			p.Legend.Add(g.Name, s)
			n++
		}
		unclustered = append(unclustered, topView(src, res.Unclustered().Indices)...)
	}
	if len(unclustered) > 0 {
		s, err := plotter.NewScatter(unclustered)
		if err != nil {
			return errors.Wrap(err, "cannot plot unclustered samples")
		}
		s.GlyphStyle.Color = color.Gray{Y: 180}
		s.GlyphStyle.Radius = vg.Points(0.5)
		p.Add(s)
		p.Legend.Add("unclustered", s)
	}
	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}

func topView(src pc.Source, indices []int) plotter.XYs {
	xys := make(plotter.XYs, len(indices))
	for i, idx := range indices {
		pos := src.Position(idx)
		xys[i].X = pos.X
		xys[i].Y = pos.Y
	}
	return xys
}
