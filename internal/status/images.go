package status

import "gate-service/internal/domain/access"

// ImagePrefix is the route corpus images are served under.
const ImagePrefix = "/images/"

// ImageURL is the client-facing path of a corpus image.
func ImageURL(corpus access.Corpus, key string) string {
	if key == "" {
		return ""
	}
	return ImagePrefix + string(corpus) + "/" + key
}
