package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// ImagePusher pushes one locally built image to the provider's registry and
// returns the fully-qualified registry reference.
type ImagePusher interface {
	PushImage(ctx context.Context, localRef string) (string, error)
}

// PushAll pushes one image per target architecture concurrently. Each push
// is an independent unit of work: a failed architecture does not roll back
// the others, and all failures are collected and reported together. The
// returned refs align with the input order; failed slots are empty.
func PushAll(ctx context.Context, pusher ImagePusher, localRefs []string) ([]string, error) {
	refs := make([]string, len(localRefs))
	errs := make([]error, len(localRefs))

	var wg sync.WaitGroup
	for i, local := range localRefs {
		wg.Add(1)
		go func(i int, local string) {
			defer wg.Done()
			ref, err := pusher.PushImage(ctx, local)
			refs[i] = ref
			errs[i] = err
		}(i, local)
	}
	wg.Wait()

	return refs, errors.Join(errs...)
}
