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
	"io"

	"github.com/cenkalti/backoff"
	"gocloud.dev/blob"
)

// maxRetries is the number of times a failed upload is retried.
const maxRetries = 4

// readBlob reads the given blob from the given bucket.
func readBlob(ctx context.Context, bucket *blob.Bucket, key string) ([]byte, error) {
	var b bytes.Buffer
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("cloud: reading blob %s: %v", key, err)
	}
	defer r.Close()
	if _, err = io.Copy(&b, r); err != nil {
		return nil, fmt.Errorf("cloud: reading blob %s: %v", key, err)
	}
	return b.Bytes(), nil
}

// writeBlob writes data to key in bucket, retrying with exponential
// backoff if the write fails.
func writeBlob(ctx context.Context, bucket *blob.Bucket, key, contentType string, data []byte) error {
	op := func() error {
		w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
		if err != nil {
			return fmt.Errorf("cloud: creating writer for blob %s: %v", key, err)
		}
		if _, err = io.Copy(w, bytes.NewReader(data)); err != nil {
			w.Close()
			return fmt.Errorf("cloud: copying blob %s: %v", key, err)
		}
		if err = w.Close(); err != nil {
			return fmt.Errorf("cloud: writing blob %s: %v", key, err)
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	return backoff.Retry(op, b)
}
