//go:build !gcp

package artifacts

import (
	"context"
	"errors"
)

func newGCSStore(context.Context, Config) (Store, error) {
	return nil, errors.New("artifacts: GCS storage is not enabled in this build (use -tags gcp)")
}
