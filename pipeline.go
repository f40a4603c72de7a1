/*
Copyright © 2024 the tempo authors.
This file is part of tempo.

tempo is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

tempo is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with tempo.  If not, see <http://www.gnu.org/licenses/>.
*/

package tempo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/tempo/internal/hash"
	"golang.org/x/sync/errgroup"
)

// State is a stage of a pipeline run.
type State int

// Pipeline states. Failed may follow any other state.
const (
	Idle State = iota
	Loading
	Combining
	Chunking
	MetadataWritten
	Rendering
	Done
	Failed
)

var stateNames = [...]string{"Idle", "Loading", "Combining", "Chunking", "MetadataWritten", "Rendering", "Done", "Failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MinParallelChunks is the smallest number of chunks that is processed by
// the worker pool rather than sequentially.
const MinParallelChunks = 3

// DefaultWorkers is the default size of the chunk worker pool.
const DefaultWorkers = 10

// LockFile is the name of the lock file created in each output directory
// while a run writes to it.
const LockFile = ".tempo.lock"

// Config holds the settings of a pipeline run.
type Config struct {
	Layout Layout
	Policy QualityPolicy

	// Reproject selects Web Mercator output instead of a geographic grid.
	Reproject bool
	Method    Resampling

	// OutputDir holds the measurement images and metadata.
	OutputDir string

	// CloudOutputDir holds the cloud images and metadata.
	CloudOutputDir string

	// Name identifies the run in metadata file names and Suffix is
	// appended to image and times file names.
	Name, Suffix string

	// RunID is included in metadata file names. If empty, it is derived
	// from the run inputs.
	RunID string

	VMin, VMax float64
	Colormap   *Colormap

	DoClouds             bool
	CloudVMin, CloudVMax float64
	CloudColormap        *Colormap

	Overwrite bool

	// TextOnly writes metadata and no images.
	TextOnly bool

	// NoOutput computes every chunk but writes nothing.
	NoOutput bool

	SingleThreaded bool
	Workers        int

	// Compress is the background recompression command for saved images.
	Compress []string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	no2, _ := LookupColormap("no2")
	cloud, _ := LookupColormap("cloud")
	return Config{
		Layout:         DefaultLayout,
		Policy:         QualitySVS,
		Reproject:      true,
		Method:         Average,
		OutputDir:      "images",
		CloudOutputDir: "cloud_images",
		Name:           "tempo",
		VMin:           0.01,
		VMax:           1.5,
		Colormap:       no2,
		CloudVMin:      0.5,
		CloudVMax:      1,
		CloudColormap:  cloud,
		Workers:        DefaultWorkers,
		Compress:       DefaultCompressCommand,
	}
}

// Pipeline turns a set of granules into images and metadata.
type Pipeline struct {
	Config Config
	Log    logrus.FieldLogger

	// Progress receives a progress bar for chunk rendering.
	// Nil disables it.
	Progress io.Writer

	mu      sync.Mutex
	history []State

	warper *Warper
}

// State returns the current state of the pipeline.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) == 0 {
		return Idle
	}
	return p.history[len(p.history)-1]
}

// History returns every state the most recent run has entered, in order.
func (p *Pipeline) History() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]State(nil), p.history...)
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.history = append(p.history, s)
	p.mu.Unlock()
	p.log().WithField("state", s).Debug("pipeline state")
}

func (p *Pipeline) log() logrus.FieldLogger {
	if p.Log == nil {
		return logrus.StandardLogger()
	}
	return p.Log
}

// layer is one rendered product of a run.
type layer struct {
	name       string
	dir        string
	cmap       *Colormap
	vmin, vmax float64

	// invert keeps only cloudy pixels, and the cloud fraction itself is
	// rendered instead of the measurement.
	invert bool
}

func (p *Pipeline) layers() []layer {
	c := p.Config
	l := []layer{{name: "measurement", dir: c.OutputDir, cmap: c.Colormap, vmin: c.VMin, vmax: c.VMax}}
	if c.DoClouds {
		l = append(l, layer{name: "cloud", dir: c.CloudOutputDir, cmap: c.CloudColormap,
			vmin: c.CloudVMin, vmax: c.CloudVMax, invert: true})
	}
	return l
}

// RunID returns the identifier used in metadata file names for a run over
// files: Config.RunID if set, and otherwise a hash of the run inputs.
func (p *Pipeline) RunID(files []string) string {
	if p.Config.RunID != "" {
		return p.Config.RunID
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	sort.Strings(names)
	return hash.Short(struct {
		Name, Suffix, Policy, Method string
		Reproject                    bool
		Files                        []string
	}{p.Config.Name, p.Config.Suffix, p.Config.Policy.String(), p.Config.Method.String(),
		p.Config.Reproject, names}, 12)
}

// Run processes files. It stops at the first error.
func (p *Pipeline) Run(ctx context.Context, files []string) (err error) {
	p.mu.Lock()
	p.history = nil
	p.mu.Unlock()
	defer func() {
		if err != nil {
			p.setState(Failed)
			return
		}
		p.setState(Done)
	}()
	if err := p.check(); err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("tempo: no input files")
	}
	log := p.log()

	p.setState(Loading)
	loader := &Loader{Layout: p.Config.Layout, Policy: p.Config.Policy, Log: log}
	granules := make([]*Granule, len(files))
	footprints := make([]string, len(files))
	for i, f := range files {
		if granules[i], err = loader.Load(f); err != nil {
			return err
		}
		footprints[i] = granules[i].GeospatialBounds
	}

	p.setState(Combining)
	measurement, cloud, err := CombineGranules(granules)
	if err != nil {
		return err
	}

	p.setState(Chunking)
	chunks, err := Plan(measurement, cloud)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"chunks": len(chunks), "policy": p.Config.Policy}).Info("planned chunks")

	layers := p.layers()
	if !p.Config.NoOutput {
		runID := p.RunID(files)
		// Layers may share a directory; each is locked once.
		locked := make(map[string]bool)
		for _, l := range layers {
			if dir := filepath.Clean(l.dir); !locked[dir] {
				unlock, err := lockDir(dir)
				if err != nil {
					return err
				}
				defer unlock()
				locked[dir] = true
			}
			md := &Metadata{Bounds: chunks[0].Bounds, Footprints: footprints, Times: measurement.Times}
			if err := md.Write(l.dir, p.Config.Name, p.Config.Suffix, runID); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"dir": l.dir, "run": runID}).Info("wrote metadata")
		}
		p.setState(MetadataWritten)
	} else {
		log.Info("no-output mode: nothing will be written")
	}
	if p.Config.TextOnly {
		return nil
	}

	p.setState(Rendering)
	p.warper = &Warper{Projection: Geographic, Method: p.Config.Method}
	if p.Config.Reproject {
		p.warper.Projection = WebMercator
	}
	for _, l := range layers {
		if err := p.render(ctx, l, chunks); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) check() error {
	c := p.Config
	if c.Colormap == nil {
		return &ConfigurationError{Option: "colormap", Value: "<nil>"}
	}
	if c.DoClouds && c.CloudColormap == nil {
		return &ConfigurationError{Option: "cloud colormap", Value: "<nil>"}
	}
	if _, ok := qualityRules[c.Policy]; !ok {
		return &ConfigurationError{Option: "quality policy", Value: c.Policy.String()}
	}
	return nil
}

// lockDir creates dir and takes an exclusive advisory lock on it.
func lockDir(dir string) (unlock func(), err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tempo: creating directory %s: %w", dir, err)
	}
	fl := flock.New(filepath.Join(dir, LockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("tempo: locking %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("tempo: output directory %s is in use by another run", dir)
	}
	return func() { fl.Unlock() }, nil
}

// render processes every chunk of a layer, in parallel if there are enough
// chunks. The first error stops chunks that have not started.
func (p *Pipeline) render(ctx context.Context, l layer, chunks []*Chunk) error {
	w := p.Progress
	if w == nil {
		w = io.Discard
	}
	bar := progressbar.NewOptions(len(chunks),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(fmt.Sprintf("Processing %s chunks", l.name)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
	)
	defer bar.Finish()

	saver := &Saver{Overwrite: p.Config.Overwrite, Compress: p.Config.Compress, Log: p.log()}
	threshold := CloudThreshold(p.Config.Policy)

	if p.Config.SingleThreaded || len(chunks) < MinParallelChunks {
		for _, c := range chunks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.processChunk(l, c, saver, threshold); err != nil {
				return err
			}
			bar.Add(1)
		}
		return nil
	}

	workers := p.Config.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := p.processChunk(l, c, saver, threshold); err != nil {
				return err
			}
			bar.Add(1)
			return nil
		})
	}
	return g.Wait()
}

// processChunk reprojects, composites and saves one chunk of a layer at
// full and half resolution.
func (p *Pipeline) processChunk(l layer, c *Chunk, saver *Saver, threshold float64) error {
	log := p.log().WithFields(logrus.Fields{
		"time":  c.Time.Format(time.RFC3339),
		"file":  filepath.Base(c.Path),
		"layer": l.name,
	})
	cloud, err := p.warper.Pair(c.Cloud, c.Grid, c.Bounds)
	if err != nil {
		return &ReprojectionError{Time: c.Time, Err: err}
	}
	data := cloud
	if !l.invert {
		if data, err = p.warper.Pair(c.Measurement, c.Grid, c.Bounds); err != nil {
			return &ReprojectionError{Time: c.Time, Err: err}
		}
	}
	full, half, err := CompositePair(data, cloud, threshold, l.invert)
	if err != nil {
		return fmt.Errorf("tempo: chunk %s: %v", c.Time.Format(time.RFC3339), err)
	}
	if p.Config.NoOutput {
		log.Debug("processed chunk without output")
		return nil
	}
	path := filepath.Join(l.dir, ImageName(c.Time, p.Config.Suffix))
	if err := saver.Save(full, l.cmap, l.vmin, l.vmax, path); err != nil {
		return err
	}
	if err := saver.Save(half, l.cmap, l.vmin, l.vmax, HalfResPath(path)); err != nil {
		return err
	}
	log.Debug("processed chunk")
	return nil
}
