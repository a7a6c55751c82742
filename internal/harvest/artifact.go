package harvest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/novel-harvester/internal/hash/sha256"
)

const (
	artifactExt         = ".txt"
	artifactContentType = "text/plain; charset=utf-8"
)

// ArtifactStore persists emitted artifacts and returns their URI.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Artifact describes one emitted file.
type Artifact struct {
	// Name is the logical artifact name, e.g. "書名_部分3".
	Name string `json:"name"`
	// Path is the object path handed to the ArtifactStore.
	Path string `json:"path"`
	// URI is what the ArtifactStore returned.
	URI string `json:"uri"`
	// BatchNumber is zero for manual checkpoints.
	BatchNumber int  `json:"batch_number"`
	Final       bool `json:"final"`
	// Blocks counts the formatted items in the artifact.
	Blocks int `json:"blocks"`
	// SHA256 is the hex digest of the written content.
	SHA256 string `json:"sha256"`
}

// BatchArtifactName names the n-th interior batch.
func BatchArtifactName(title string, n int) string {
	return fmt.Sprintf("%s_部分%d", title, n)
}

// FinalArtifactName names the terminal batch.
func FinalArtifactName(title string) string {
	return title + "_最終部分"
}

// CheckpointArtifactName names a manual checkpoint.
func CheckpointArtifactName(title string) string {
	return title + "_部分"
}

func batchContent(blocks []string) string {
	return strings.Join(blocks, "")
}

// titledContent prefixes the collection title, as the terminal and checkpoint
// artifacts do.
func titledContent(title string, blocks []string) string {
	return title + "\n\n" + strings.Join(blocks, "")
}

// objectPath keeps titles containing separators from becoming nested paths.
func objectPath(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(name) + artifactExt
}

func putArtifact(ctx context.Context, dst ArtifactStore, art *Artifact, content string) error {
	art.Path = objectPath(art.Name)
	uri, err := dst.PutObject(ctx, art.Path, artifactContentType, strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFlushFailed, art.Path, err)
	}
	art.URI = uri
	art.SHA256 = sha256.Sum(content)
	return nil
}
