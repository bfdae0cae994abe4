// event-plot renders a reconstructed event as scatter plots of its hits with
// the fitted track segments overlaid, one PNG per projection.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/larpix-data/reco3d/internal/reco"
	"github.com/larpix-data/reco3d/internal/recodb"
)

var (
	dbPath  = flag.String("db", "", "Reconstruction database (required)")
	eventID = flag.Int64("event", 0, "Event ID to plot")
	outBase = flag.String("o", "", "Output file base name (default event_<id>)")
)

func main() {
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("-db is required")
	}
	if *outBase == "" {
		*outBase = fmt.Sprintf("event_%d", *eventID)
	}

	db, err := recodb.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	event, err := db.LoadEvent(*eventID)
	if err != nil {
		log.Fatalf("failed to load event %d: %v", *eventID, err)
	}
	log.Printf("event %d: %d hits, %d tracks", event.ID, event.Nhit, len(event.Tracks))

	points := make([]r3.Vec, len(event.Hits))
	for i, h := range event.Hits {
		points[i] = reco.HitPoint(h, event.TSStart)
	}

	type projection struct {
		name   string
		xLabel string
		yLabel string
		pick   func(r3.Vec) (float64, float64)
	}
	projections := []projection{
		{"xy", "x [cm]", "y [cm]", func(v r3.Vec) (float64, float64) { return v.X, v.Y }},
		{"xt", "x [cm]", "t [us]", func(v r3.Vec) (float64, float64) { return v.X, v.Z }},
		{"yt", "y [cm]", "t [us]", func(v r3.Vec) (float64, float64) { return v.Y, v.Z }},
	}

	for _, proj := range projections {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("Event %d", event.ID)
		p.X.Label.Text = proj.xLabel
		p.Y.Label.Text = proj.yLabel

		pts := make(plotter.XYs, len(points))
		for i, v := range points {
			pts[i].X, pts[i].Y = proj.pick(v)
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			log.Fatalf("failed to build scatter: %v", err)
		}
		scatter.Radius = vg.Points(2)
		p.Add(scatter)
		p.Legend.Add("hits", scatter)

		for i, track := range event.Tracks {
			a, b := trackEndpoints(event, track)
			seg := plotter.XYs{{}, {}}
			seg[0].X, seg[0].Y = proj.pick(a)
			seg[1].X, seg[1].Y = proj.pick(b)
			line, err := plotter.NewLine(seg)
			if err != nil {
				log.Fatalf("failed to build track line: %v", err)
			}
			line.Width = vg.Points(1)
			line.Color = color.RGBA{R: 200, A: 255}
			p.Add(line)
			if i == 0 {
				p.Legend.Add("tracks", line)
			}
		}

		file := fmt.Sprintf("%s_%s.png", *outBase, proj.name)
		if err := p.Save(6*vg.Inch, 6*vg.Inch, file); err != nil {
			log.Fatalf("failed to save %s: %v", file, err)
		}
		log.Printf("wrote %s", file)
	}
}

// trackEndpoints spans the fitted line over the extent of the track's own
// hits, measured along the line direction.
func trackEndpoints(event *reco.Event, track *reco.Track) (r3.Vec, r3.Vec) {
	line := reco.Line{Theta: track.Theta, Phi: track.Phi, Xp: track.Xp, Yp: track.Yp}
	dir := line.Direction()
	p0 := line.PointOnLine()

	tMin, tMax := math.Inf(1), math.Inf(-1)
	for _, h := range track.Hits {
		t := r3.Dot(r3.Sub(reco.HitPoint(h, event.TSStart), p0), dir)
		tMin = math.Min(tMin, t)
		tMax = math.Max(tMax, t)
	}
	if tMin > tMax {
		tMin, tMax = -1, 1
	}
	return r3.Add(p0, r3.Scale(tMin, dir)), r3.Add(p0, r3.Scale(tMax, dir))
}
