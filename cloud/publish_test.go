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
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"tempo_2024-03-28T12h00m.png":                "a",
		"resized_images/tempo_2024-03-28T12h00m.png": "b",
		"times_tempo_abc.npy":                        "[1711627200000]",
		".tempo.lock":                                "",
		".tempo-123.png":                             "partial",
	})
	bucketURL := "file://" + filepath.ToSlash(filepath.Join(t.TempDir(), "bucket"))
	bucket, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	r, err := Publish(ctx, bucket, "no2", src, false, log)
	if err != nil {
		t.Fatal(err)
	}
	if r.Uploaded != 3 || r.Skipped != 0 {
		t.Errorf("first publish: have %+v", *r)
	}
	var keys []string
	iter := bucket.List(nil)
	for {
		obj, err := iter.Next(ctx)
		if err != nil {
			break
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	want := []string{
		"no2/resized_images/tempo_2024-03-28T12h00m.png",
		"no2/tempo_2024-03-28T12h00m.png",
		"no2/times_tempo_abc.npy",
	}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys: have %v, want %v", keys, want)
	}
	attrs, err := bucket.Attributes(ctx, want[1])
	if err != nil {
		t.Fatal(err)
	}
	if attrs.ContentType != "image/png" {
		t.Errorf("content type: have %q", attrs.ContentType)
	}

	// Existing keys are kept unless overwrite is set.
	writeTree(t, src, map[string]string{"tempo_2024-03-28T12h00m.png": "c"})
	if r, err = Publish(ctx, bucket, "no2", src, false, log); err != nil {
		t.Fatal(err)
	}
	if r.Uploaded != 0 || r.Skipped != 3 {
		t.Errorf("second publish: have %+v", *r)
	}
	if r, err = Publish(ctx, bucket, "no2", src, true, log); err != nil {
		t.Fatal(err)
	}
	if r.Uploaded != 1 || r.Skipped != 2 {
		t.Errorf("overwrite publish: have %+v", *r)
	}
	b, err := readBlob(ctx, bucket, want[1])
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "c" {
		t.Errorf("blob content: have %q, want c", b)
	}
}

func TestOpenBucket_invalid(t *testing.T) {
	if _, err := OpenBucket(context.Background(), "ftp://example.com/x"); err == nil {
		t.Error("expected an error for an unsupported provider")
	}
}

func TestKeyPrefix(t *testing.T) {
	tests := map[string]string{
		"gs://bucket/tempo/no2/": "tempo/no2",
		"s3://bucket":            "",
		"file:///var/www/tempo":  "",
	}
	for u, want := range tests {
		have, err := KeyPrefix(u)
		if err != nil {
			t.Error(err)
			continue
		}
		if have != want {
			t.Errorf("%s: have %q, want %q", u, have, want)
		}
	}
}
