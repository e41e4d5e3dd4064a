package provider

import (
	"strings"

	"github.com/distribution/reference"
)

// imageRef is a normalized local image reference.
type imageRef struct {
	// name is the final path segment, suitable as a repository suffix.
	name string
	tag  string
}

// parseImageRef normalizes a local image reference and extracts the short
// name and tag used to address it inside a cloud registry namespace.
func parseImageRef(localRef string) (imageRef, error) {
	named, err := reference.ParseNormalizedNamed(localRef)
	if err != nil {
		return imageRef{}, err
	}

	path := reference.Path(named)
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[idx+1:]
	}

	tag := "latest"
	if tagged, ok := named.(reference.Tagged); ok {
		tag = tagged.Tag()
	}

	return imageRef{name: path, tag: tag}, nil
}
