package main

import (
	"fmt"
	"image/color"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"go.viam.com/coloc/localization"
)

// plotPath draws the top-down view of the optimized path and the anchors at their configured
// positions.
func plotPath(path []localization.PoseStamped, cfg *localization.Config, file string) error {
	p := plot.New()
	p.Title.Text = "optimized path"
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	pts := lo.Map(path, func(ps localization.PoseStamped, _ int) plotter.XY {
		pt := ps.Pose.Point()
		return plotter.XY{X: pt.X, Y: pt.Y}
	})
	line, err := plotter.NewLine(plotter.XYs(pts))
	if err != nil {
		return errors.Wrap(err, "failed to plot path")
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{B: 200, A: 255}
	p.Add(line)
	p.Legend.Add(fmt.Sprintf("robot %d", cfg.SelfID()), line)

	anchors := make(plotter.XYs, 0, len(cfg.RobotPositions)/3)
	for i := 0; i+2 < len(cfg.RobotPositions); i += 3 {
		anchors = append(anchors, plotter.XY{X: cfg.RobotPositions[i], Y: cfg.RobotPositions[i+1]})
	}
	if len(anchors) > 0 {
		scatter, err := plotter.NewScatter(anchors)
		if err != nil {
			return errors.Wrap(err, "failed to plot anchors")
		}
		scatter.GlyphStyle.Shape = draw.TriangleGlyph{}
		scatter.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
		p.Add(scatter)
		p.Legend.Add("robots", scatter)
	}

	if err := p.Save(8*vg.Inch, 8*vg.Inch, file); err != nil {
		return errors.Wrapf(err, "failed to save plot %s", file)
	}
	return nil
}
