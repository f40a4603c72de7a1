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

package cloud

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
)

// Result summarizes a Publish call.
type Result struct {
	// Uploaded and Skipped count the files that were written and those
	// left in place because the key already held them.
	Uploaded, Skipped int
}

var contentTypes = map[string]string{
	".png":  "image/png",
	".json": "application/json",
	".npy":  "text/plain; charset=utf-8",
}

// Publish copies the regular files under dir into bucket, keyed by their
// path relative to dir below prefix. Hidden files, such as lock files and
// partially written images, are not copied. An existing key is left alone
// unless overwrite is true, and even then it is only rewritten if its
// content differs. log may be nil.
func Publish(ctx context.Context, bucket *blob.Bucket, prefix, dir string, overwrite bool, log logrus.FieldLogger) (*Result, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var files []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(info.Name(), ".") && p != dir {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cloud: listing %s: %v", dir, err)
	}

	r := new(Result)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			return r, err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		flog := log.WithField("key", key)

		exists, err := bucket.Exists(ctx, key)
		if err != nil {
			return r, fmt.Errorf("cloud: checking blob %s: %v", key, err)
		}
		if exists && !overwrite {
			flog.Debug("blob exists; skipping")
			r.Skipped++
			continue
		}
		data, err := os.ReadFile(f)
		if err != nil {
			return r, fmt.Errorf("cloud: %v", err)
		}
		if exists {
			old, err := readBlob(ctx, bucket, key)
			if err != nil {
				return r, err
			}
			if bytes.Equal(old, data) {
				flog.Debug("blob unchanged; skipping")
				r.Skipped++
				continue
			}
		}
		if err := writeBlob(ctx, bucket, key, contentType(f), data); err != nil {
			return r, err
		}
		flog.Debug("published")
		r.Uploaded++
	}
	log.WithFields(logrus.Fields{
		"dir":      dir,
		"uploaded": r.Uploaded,
		"skipped":  r.Skipped,
	}).Info("published outputs")
	return r, nil
}

func contentType(name string) string {
	if t, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return "application/octet-stream"
}
