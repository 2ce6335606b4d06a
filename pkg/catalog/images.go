package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// imageExts are the accepted source image extensions, matched case-insensitively.
var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// tagRank returns the A..F ordering rank of a tagged image stem, or -1 when
// the stem carries no `_A`..`_F` suffix. The tag letter itself is matched in
// either case and preserved as found.
func tagRank(stem string) int {
	if len(stem) < 2 || stem[len(stem)-2] != '_' {
		return -1
	}
	c := stem[len(stem)-1]
	switch {
	case c >= 'A' && c <= 'F':
		return int(c - 'A')
	case c >= 'a' && c <= 'f':
		return int(c - 'a')
	}
	return -1
}

// selectImages returns the ordered image selection for one item directory:
// tagged images `_A`..`_F` first in letter order, then the remainder in
// case-insensitive lexicographic order. The caller caps the result.
func selectImages(imagesDir string) ([]string, error) {
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type candidate struct {
		name string
		rank int
	}
	var tagged, rest []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !imageExts[ext] {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if r := tagRank(stem); r >= 0 {
			tagged = append(tagged, candidate{name: e.Name(), rank: r})
		} else {
			rest = append(rest, candidate{name: e.Name()})
		}
	}

	sort.SliceStable(tagged, func(i, j int) bool {
		if tagged[i].rank != tagged[j].rank {
			return tagged[i].rank < tagged[j].rank
		}
		return tagged[i].name < tagged[j].name
	})
	sort.SliceStable(rest, func(i, j int) bool {
		li, lj := strings.ToLower(rest[i].name), strings.ToLower(rest[j].name)
		if li != lj {
			return li < lj
		}
		return rest[i].name < rest[j].name
	})

	out := make([]string, 0, len(tagged)+len(rest))
	for _, c := range tagged {
		out = append(out, filepath.Join(imagesDir, c.name))
	}
	for _, c := range rest {
		out = append(out, filepath.Join(imagesDir, c.name))
	}
	return out, nil
}

// selectGT picks the ground-truth object from a gt/ directory: .glb is
// preferred over .fbx, and among files of the preferred extension the
// lexicographically smallest wins. The second return value reports whether
// more than one candidate of the chosen extension exists.
func selectGT(gtDir string) (string, bool, error) {
	entries, err := os.ReadDir(gtDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	byExt := map[string][]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".glb" || ext == ".fbx" {
			byExt[ext] = append(byExt[ext], e.Name())
		}
	}

	for _, ext := range []string{".glb", ".fbx"} {
		names := byExt[ext]
		if len(names) == 0 {
			continue
		}
		sort.Strings(names)
		return filepath.Join(gtDir, names[0]), len(names) > 1, nil
	}
	return "", false, nil
}
