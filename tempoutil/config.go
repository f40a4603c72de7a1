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

package tempoutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/tempo"
	"github.com/spatialmodel/tempo/catalog"
	"github.com/spatialmodel/tempo/cloud"
	"github.com/spf13/cast"
)

// SampleSize is the number of granules processed in sample mode.
const SampleSize = 10

// ProcessConfig builds a pipeline configuration from cfg.
func ProcessConfig(cfg *viper.Viper) (tempo.Config, error) {
	c := tempo.DefaultConfig()

	var err error
	if c.Policy, err = tempo.ParseQualityPolicy(cfg.GetString("quality")); err != nil {
		return c, err
	}
	method := strings.ToLower(cfg.GetString("method"))
	c.Method = tempo.ParseResampling(method)
	if c.Method.String() != method {
		logrus.WithField("method", method).Warnf("unknown resampling method; using %s", c.Method)
	}
	if c.Colormap, err = tempo.LookupColormap(cfg.GetString("cmap")); err != nil {
		return c, err
	}
	if c.CloudColormap, err = tempo.LookupColormap(cfg.GetString("cloud-cmap")); err != nil {
		return c, err
	}

	c.OutputDir = os.ExpandEnv(cfg.GetString("output"))
	c.CloudOutputDir = os.ExpandEnv(cfg.GetString("cloud-dir"))
	c.Name = cfg.GetString("name")
	if c.Name == "" {
		dir := filepath.Clean(os.ExpandEnv(cfg.GetString("directory")))
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		c.Name = filepath.Base(dir)
	}
	c.Suffix = cfg.GetString("suffix")
	c.RunID = cfg.GetString("runid")

	floats := []struct {
		name string
		v    *float64
	}{
		{"vmin", &c.VMin}, {"vmax", &c.VMax},
		{"cloud-vmin", &c.CloudVMin}, {"cloud-vmax", &c.CloudVMax},
	}
	for _, f := range floats {
		if *f.v, err = cast.ToFloat64E(cfg.Get(f.name)); err != nil {
			return c, &tempo.ConfigurationError{Option: f.name, Value: cast.ToString(cfg.Get(f.name))}
		}
	}
	if c.VMax <= c.VMin {
		return c, &tempo.ConfigurationError{Option: "vmax", Value: fmt.Sprint(c.VMax)}
	}
	if c.CloudVMax <= c.CloudVMin {
		return c, &tempo.ConfigurationError{Option: "cloud-vmax", Value: fmt.Sprint(c.CloudVMax)}
	}
	if c.Workers, err = cast.ToIntE(cfg.Get("workers")); err != nil || c.Workers < 1 {
		return c, &tempo.ConfigurationError{Option: "workers", Value: cast.ToString(cfg.Get("workers"))}
	}

	c.Reproject = !cfg.GetBool("no-reproject")
	c.DoClouds = cfg.GetBool("do-clouds")
	c.Overwrite = cfg.GetBool("overwrite")
	c.TextOnly = cfg.GetBool("text-only")
	c.NoOutput = cfg.GetBool("dry-run")
	c.SingleThreaded = cfg.GetBool("singlethreaded")

	c.Compress = nil
	for _, a := range cast.ToStringSlice(cfg.Get("compress")) {
		if a = strings.TrimSpace(a); a != "" {
			c.Compress = append(c.Compress, a)
		}
	}
	return c, nil
}

// InputFiles returns the sorted granule files selected by cfg.
func InputFiles(cfg *viper.Viper) ([]string, error) {
	dir := os.ExpandEnv(cfg.GetString("directory"))
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("tempoutil: input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("tempoutil: input directory %s is not a directory", dir)
	}
	pattern := cfg.GetString("pattern")
	if pattern == "" {
		pattern = fmt.Sprintf("TEMPO_NO2_L%s_V0%s*_S*.nc", cfg.GetString("level"), cfg.GetString("version"))
	}
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, &tempo.ConfigurationError{Option: "pattern", Value: pattern}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("tempoutil: no files in %s match %s", dir, pattern)
	}
	sort.Strings(files)
	if cfg.GetBool("sample") && len(files) > SampleSize {
		files = files[:SampleSize]
	}
	logrus.WithFields(logrus.Fields{"dir": dir, "pattern": pattern}).Debugf("found %d input files", len(files))
	return files, nil
}

// Process runs the pipeline configured by cfg. Chunk progress is written
// to progress, which may be nil.
func Process(ctx context.Context, cfg *viper.Viper, progress io.Writer, log logrus.FieldLogger) error {
	c, err := ProcessConfig(cfg)
	if err != nil {
		return err
	}
	files, err := InputFiles(cfg)
	if err != nil {
		return err
	}
	p := &tempo.Pipeline{Config: c, Log: log, Progress: progress}
	if err := p.Run(ctx, files); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"files": len(files), "name": c.Name}).Info("processing complete")
	return nil
}

// searchWindow returns the time window to search. If start is not set,
// the window begins at the last released time, which is returned as
// last so that granules already released can be removed.
func searchWindow(ctx context.Context, cfg *viper.Viper, c *catalog.Client) (start, end, last time.Time, err error) {
	end = time.Now().UTC()
	if s := cfg.GetString("end"); s != "" {
		if end, err = cast.ToTimeE(s); err != nil {
			return start, end, last, &tempo.ConfigurationError{Option: "end", Value: s}
		}
	}
	if s := cfg.GetString("start"); s != "" {
		if start, err = cast.ToTimeE(s); err != nil {
			return start, end, last, &tempo.ConfigurationError{Option: "start", Value: s}
		}
		return start.UTC(), end.UTC(), last, nil
	}
	if last, err = c.LastReleased(ctx, cfg.GetString("manifest")); err != nil {
		return start, end, last, err
	}
	return last, end.UTC(), last, nil
}

// Search writes the download URLs of new granules to w, or to the
// download-list file if one is configured. It returns the number of URLs
// written.
func Search(ctx context.Context, cfg *viper.Viper, w io.Writer, log logrus.FieldLogger) (int, error) {
	c := &catalog.Client{
		BaseURL:   cfg.GetString("catalog-url"),
		ConceptID: cfg.GetString("concept-id"),
		Log:       log,
	}
	start, end, last, err := searchWindow(ctx, cfg, c)
	if err != nil {
		return 0, err
	}
	if !end.After(start) {
		return 0, &tempo.ConfigurationError{Option: "end", Value: end.Format(catalog.TimeFormat)}
	}
	granules, err := c.Search(ctx, start, end)
	if err != nil {
		return 0, err
	}
	if !last.IsZero() {
		granules = catalog.NewerThan(granules, last, catalog.DefaultTolerance)
	}
	if cfg.GetBool("only-one") && len(granules) > 1 {
		granules = granules[:1]
	}
	if cfg.GetBool("dry-run") {
		for _, g := range granules {
			log.WithField("time", g.Time.Format(catalog.TimeFormat)).Infof("would download %s", g.Name())
		}
		return 0, nil
	}

	if list := os.ExpandEnv(cfg.GetString("download-list")); list != "" {
		f, err := os.Create(list)
		if err != nil {
			return 0, fmt.Errorf("tempoutil: creating download list: %w", err)
		}
		n, err := catalog.WriteDownloadList(f, granules, os.ExpandEnv(cfg.GetString("directory")), log)
		if err != nil {
			f.Close()
			return n, err
		}
		return n, f.Close()
	}
	return catalog.WriteDownloadList(w, granules, os.ExpandEnv(cfg.GetString("directory")), log)
}

// Publish uploads the output directories configured by cfg to the
// configured bucket. Each directory is stored below a key prefix named
// after it.
func Publish(ctx context.Context, cfg *viper.Viper, log logrus.FieldLogger) error {
	bucketURL := os.ExpandEnv(cfg.GetString("bucket"))
	if bucketURL == "" {
		return &tempo.ConfigurationError{Option: "bucket", Value: bucketURL}
	}
	dirs := []string{os.ExpandEnv(cfg.GetString("output"))}
	if cfg.GetBool("do-clouds") {
		dirs = append(dirs, os.ExpandEnv(cfg.GetString("cloud-dir")))
	}
	if cfg.GetBool("dry-run") {
		for _, d := range dirs {
			log.WithField("bucket", bucketURL).Infof("would publish %s", d)
		}
		return nil
	}

	prefix, err := cloud.KeyPrefix(bucketURL)
	if err != nil {
		return err
	}
	prefix = path.Join(prefix, cfg.GetString("prefix"))
	bucket, err := cloud.OpenBucket(ctx, bucketURL)
	if err != nil {
		return err
	}
	defer bucket.Close()

	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.Base(abs))
		if _, err := cloud.Publish(ctx, bucket, key, d, cfg.GetBool("overwrite"), log); err != nil {
			return err
		}
	}
	return nil
}
