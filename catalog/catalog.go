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

// Package catalog finds new TEMPO granules in NASA's Common Metadata
// Repository (CMR) and prepares lists of files to download.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/tempo"
	"github.com/spf13/cast"
)

const (
	// DefaultBaseURL is the address of the CMR search service.
	DefaultBaseURL = "https://cmr.earthdata.nasa.gov"

	// DefaultConceptID identifies the TEMPO level 3 NO2 V03 collection.
	DefaultConceptID = "C2930763263-LARC_CLOUD"

	// DefaultManifestURL is the manifest of already released images.
	DefaultManifestURL = "https://raw.githubusercontent.com/johnarban/tempo-data-holdings/main/manifest.json"

	// TimeFormat is the layout of times in CMR temporal queries.
	TimeFormat = "2006-01-02T15:04:05Z"

	// DefaultTolerance is how close to the last released time a granule may
	// be and still be considered already released.
	DefaultTolerance = time.Minute

	// PageSize is the number of granules requested per search.
	PageSize = 1000

	// SubsetDir is the subdirectory of a data directory holding spatially
	// subsetted granules.
	SubsetDir = "subsetted_netcdf"
)

// protectedHost marks the direct-download links of a granule.
const protectedHost = "asdc-prod-protected"

// Granule is a granule available for download.
type Granule struct {
	URL string

	// Time is the acquisition time embedded in the file name.
	Time time.Time
}

// Name returns the file name of the granule.
func (g Granule) Name() string { return path.Base(g.URL) }

// Client searches the CMR.
type Client struct {
	// BaseURL and ConceptID default to DefaultBaseURL and DefaultConceptID.
	BaseURL, ConceptID string

	// HTTP defaults to http.DefaultClient.
	HTTP *http.Client

	Log logrus.FieldLogger

	// MaxElapsedTime limits how long failed requests are retried.
	// Zero uses the backoff default.
	MaxElapsedTime time.Duration
}

func (c *Client) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

// get fetches u and decodes the JSON response into v. Transport errors and
// server errors are retried with exponential backoff.
func (c *Client) get(ctx context.Context, u string, v interface{}) error {
	op := func() error {
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req = req.WithContext(ctx)
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient().Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("catalog: %s: %s", u, resp.Status)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("catalog: %s: %s", u, resp.Status))
		}
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return backoff.Permanent(fmt.Errorf("catalog: decoding response from %s: %v", u, err))
		}
		return nil
	}
	b := backoff.NewExponentialBackOff()
	if c.MaxElapsedTime > 0 {
		b.MaxElapsedTime = c.MaxElapsedTime
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		c.log().Warnf("%v: retrying in %v", err, d)
	})
}

type searchResponse struct {
	Feed struct {
		Entry []struct {
			Links []struct {
				Href string `json:"href"`
			} `json:"links"`
		} `json:"entry"`
	} `json:"feed"`
}

// Search returns the granules acquired between start and end, in time
// order. Only granules with a direct-download link are returned.
func (c *Client) Search(ctx context.Context, start, end time.Time) ([]Granule, error) {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	concept := c.ConceptID
	if concept == "" {
		concept = DefaultConceptID
	}
	q := url.Values{}
	q.Set("concept_id", concept)
	q.Set("temporal", start.UTC().Format(TimeFormat)+","+end.UTC().Format(TimeFormat))
	q.Set("page_size", strconv.Itoa(PageSize))
	u := strings.TrimRight(base, "/") + "/search/granules?" + q.Encode()
	c.log().WithField("url", u).Debug("searching for granules")

	var r searchResponse
	if err := c.get(ctx, u, &r); err != nil {
		return nil, err
	}
	var granules []Granule
	for _, e := range r.Feed.Entry {
		for _, l := range e.Links {
			if !strings.Contains(l.Href, protectedHost) {
				continue
			}
			t, err := tempo.FilenameTime(l.Href)
			if err != nil {
				c.log().Warn(err)
				break
			}
			granules = append(granules, Granule{URL: l.Href, Time: t})
			break
		}
	}
	sort.SliceStable(granules, func(i, j int) bool { return granules[i].Time.Before(granules[j].Time) })
	c.log().WithFields(logrus.Fields{
		"entries":  len(r.Feed.Entry),
		"granules": len(granules),
	}).Info("searched for granules")
	return granules, nil
}

type manifest struct {
	Released struct {
		Timestamps []interface{} `json:"timestamps"`
	} `json:"released"`
}

// LastReleased returns the time of the last released image listed in the
// manifest at manifestURL. Manifest timestamps are milliseconds since the
// Unix epoch, as numbers or strings.
func (c *Client) LastReleased(ctx context.Context, manifestURL string) (time.Time, error) {
	var m manifest
	if err := c.get(ctx, manifestURL, &m); err != nil {
		return time.Time{}, err
	}
	ts := m.Released.Timestamps
	if len(ts) == 0 {
		return time.Time{}, fmt.Errorf("catalog: manifest %s has no released timestamps", manifestURL)
	}
	ms, err := cast.ToInt64E(ts[len(ts)-1])
	if err != nil {
		return time.Time{}, fmt.Errorf("catalog: invalid timestamp in manifest %s: %v", manifestURL, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// NewerThan returns the candidates acquired more than tolerance after last.
func NewerThan(candidates []Granule, last time.Time, tolerance time.Duration) []Granule {
	var out []Granule
	for _, g := range candidates {
		if g.Time.After(last.Add(tolerance)) {
			out = append(out, g)
		}
	}
	return out
}

// WriteDownloadList writes the URL of each granule that is not already
// present in dataDir or its SubsetDir, one per line, and returns the
// number written.
func WriteDownloadList(w io.Writer, granules []Granule, dataDir string, log logrus.FieldLogger) (int, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var n int
	for _, g := range granules {
		name := g.Name()
		if exists(filepath.Join(dataDir, name)) || exists(filepath.Join(dataDir, SubsetDir, name)) {
			log.WithField("file", name).Infof("skipping; already in %s", dataDir)
			continue
		}
		if _, err := fmt.Fprintln(w, g.URL); err != nil {
			return n, fmt.Errorf("catalog: writing download list: %v", err)
		}
		n++
	}
	return n, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// DayDirectory returns the archive folder name for an acquisition at t:
// the date five hours behind UTC, formatted as 2006.01.02.
func DayDirectory(t time.Time) string {
	return t.UTC().Add(-5 * time.Hour).Format("2006.01.02")
}
