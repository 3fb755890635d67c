package logstore

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// GC deletes log files older than maxAge under root's per-worker
// subdirectories, keeping at least minKeep of the newest files in each
// worker directory regardless of age. Run once at startup and hourly
// thereafter (spec.md §4.5/§9 — policy is configurable, the mechanism is
// not).
func (s *Store) GC(maxAge time.Duration, minKeep int, log zerolog.Logger) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("log retention: read logs root")
		}
		return
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s.gcWorkerDir(filepath.Join(s.root, entry.Name()), cutoff, minKeep, log)
	}
}

func (s *Store) gcWorkerDir(dir string, cutoff time.Time, minKeep int, log zerolog.Logger) {
	files, err := os.ReadDir(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("log retention: read worker log dir")
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var infos []fileInfo
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		infos = append(infos, fileInfo{path: filepath.Join(dir, f.Name()), modTime: info.ModTime()})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].modTime.After(infos[j].modTime) })

	for i, fi := range infos {
		if i < minKeep {
			continue
		}
		if fi.modTime.After(cutoff) {
			continue
		}
		if err := os.Remove(fi.path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", fi.path).Msg("log retention: remove expired log")
		}
	}
}
