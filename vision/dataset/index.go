// Package dataset enumerates annotated image samples from a project root and
// exposes them as an indexable collection of training tensors.
//
// The expected layout is one directory per sub-dataset, each holding an img/
// directory with images and an ann/ directory with one annotation file per
// image ("<image name>.json").
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sample is one (image, annotation) path pair. The two paths refer to the
// same logical image; a sample's position in the index is its stable integer
// identity for random access.
type Sample struct {
	ImagePath string
	AnnPath   string
}

// StructureError reports a dataset layout problem found while building the
// index: a referenced sub-dataset that does not exist, or an image with no
// matching annotation. It always surfaces before training starts.
type StructureError struct {
	msg string
}

func (e *StructureError) Error() string {
	return e.msg
}

func structureErrorf(format string, args ...interface{}) *StructureError {
	return &StructureError{msg: fmt.Sprintf(format, args...)}
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
}

// BuildIndex scans root for samples. When included is non-empty only those
// sub-datasets are scanned; sub-datasets named in excluded are always
// skipped, even if also included. Ordering is lexicographic by path, so an
// index is stable across runs as long as the filesystem does not change.
func BuildIndex(root string, included, excluded []string) ([]Sample, error) {
	subs, err := selectSubDatasets(root, included, excluded)
	if err != nil {
		return nil, err
	}

	var samples []Sample
	for _, sub := range subs {
		imgDir := filepath.Join(root, sub, "img")
		annDir := filepath.Join(root, sub, "ann")

		entries, err := os.ReadDir(imgDir)
		if err != nil {
			return nil, structureErrorf("sub-dataset %q has no img directory under %s", sub, root)
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
				continue
			}
			names = append(names, entry.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			annPath := filepath.Join(annDir, name+".json")
			if _, err := os.Stat(annPath); err != nil {
				return nil, structureErrorf("image %s has no annotation file at %s",
					filepath.Join(imgDir, name), annPath)
			}
			samples = append(samples, Sample{
				ImagePath: filepath.Join(imgDir, name),
				AnnPath:   annPath,
			})
		}
	}
	return samples, nil
}

// selectSubDatasets resolves the effective sub-dataset list in deterministic
// order. Exclusion wins over inclusion.
func selectSubDatasets(root string, included, excluded []string) ([]string, error) {
	excludedSet := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		excludedSet[name] = true
	}

	var subs []string
	if len(included) > 0 {
		for _, name := range included {
			info, err := os.Stat(filepath.Join(root, name))
			if err != nil || !info.IsDir() {
				return nil, structureErrorf("included sub-dataset %q not found under %s", name, root)
			}
			if !excludedSet[name] {
				subs = append(subs, name)
			}
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, structureErrorf("cannot read dataset root %s: %v", root, err)
		}
		for _, entry := range entries {
			if entry.IsDir() && !excludedSet[entry.Name()] {
				subs = append(subs, entry.Name())
			}
		}
	}

	sort.Strings(subs)
	return subs, nil
}
