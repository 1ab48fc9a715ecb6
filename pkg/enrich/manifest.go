package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ManifestName is the file in a shard directory listing the shards of a
// merge whose output may already be in place.
const ManifestName = ".merge-manifest.json"

// mergeManifest is written before the output rename. Size is the size of
// the new output, so a reader can tell whether the rename happened.
type mergeManifest struct {
	Output string   `json:"output"`
	Size   int64    `json:"size"`
	Shards []string `json:"shards"`
}

// writeManifests writes one manifest per shard directory and returns their
// paths.
func writeManifests(shards []ShardHandle, output string, size int64) ([]string, error) {
	byDir := make(map[string][]string)
	for _, sh := range shards {
		dir := filepath.Dir(sh.Path)
		byDir[dir] = append(byDir[dir], filepath.Base(sh.Path))
	}

	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var paths []string
	for _, dir := range dirs {
		path, err := writeManifest(dir, mergeManifest{Output: output, Size: size, Shards: byDir[dir]})
		if err != nil {
			removeManifests(paths)
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeManifest(dir string, mf mergeManifest) (string, error) {
	data, err := json.Marshal(mf)
	if err != nil {
		return "", fmt.Errorf("encode merge manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ManifestName+".tmp-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	path := filepath.Join(dir, ManifestName)
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	syncDir(dir)
	return path, nil
}

func removeManifests(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

// mergedShards reads the manifest in dir. It returns the names of shards
// already merged into an output that is still in place. A manifest whose
// output was never replaced, or has changed since, is removed.
func mergedShards(dir string) (map[string]bool, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read merge manifest: %w", err)
	}

	var mf mergeManifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("decode merge manifest %s: %w", path, err)
	}

	info, err := os.Stat(mf.Output)
	if err != nil || info.Size() != mf.Size {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale merge manifest: %w", rmErr)
		}
		return nil, nil
	}

	merged := make(map[string]bool, len(mf.Shards))
	for _, name := range mf.Shards {
		merged[name] = true
	}
	return merged, nil
}
