package cag

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// FitResult summarises one FitAll pass
type FitResult struct {
	Fitted  int // densities attached
	Skipped int // edges with no evidence
	Stale   int // edges whose evidence changed while their fit was running
}

type fitJob struct {
	id       EdgeID
	evidence []Statement
	density  Density
}

// FitAll fits a density for every edge with evidence. Evidence is snapshotted up
// front, fitters run on at most workers goroutines, and results are attached one
// edge at a time. An edge that gained evidence in the meantime keeps its old
// state and is counted as Stale. If any fit fails nothing is attached.
func FitAll(ctx context.Context, g *Graph, f Fitter, workers int) (FitResult, error) {
	var res FitResult
	var jobs []*fitJob
	for _, id := range g.Edges() {
		e := g.edges[id].edge
		if e.NumEvidence() == 0 {
			res.Skipped++
			continue
		}
		jobs = append(jobs, &fitJob{id: id, evidence: e.Evidence()})
	}

	eg, egCtx := errgroup.WithContext(ctx)
	if workers > 0 {
		eg.SetLimit(workers)
	}
	for _, job := range jobs {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			d, err := f.Fit(job.evidence)
			if err != nil {
				return fmt.Errorf("failed to fit edge #%d: %w", job.id, err)
			}
			job.density = d
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return res, err
	}

	for _, job := range jobs {
		e, err := g.Edge(job.id)
		if err != nil || e.NumEvidence() != len(job.evidence) {
			res.Stale++
			continue
		}
		e.SetDensity(job.density)
		res.Fitted++
	}
	g.logger.Debug("fitted edge densities", "graph", g.name,
		"fitted", res.Fitted, "skipped", res.Skipped, "stale", res.Stale)
	return res, nil
}
