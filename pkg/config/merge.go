package config

import (
	"os"

	"github.com/overwatch-dqm/overwatch/pkg/logging"
)

// WriteCustomConfig merges overrides into the persisted configuration file at
// filename. Keys absent from overrides are preserved, overlapping keys are
// replaced, and the result fully overwrites the file. A missing file is
// treated as an empty mapping; a malformed existing file halts the merge and
// the error is returned to the caller rather than resetting the file.
//
// The read-merge-write sequence is not locked: deployment is single-operator
// and sequential, and concurrent writers targeting the same file can lose
// updates.
func WriteCustomConfig(filename string, overrides map[string]interface{}, logger logging.Logger) error {
	base := map[string]interface{}{}

	if _, err := os.Stat(filename); err == nil {
		logger.Debugf("Merging overrides into existing configuration, filename: %s", filename)
		base, err = LoadFile(filename)
		if err != nil {
			return err
		}
	} else {
		logger.Debugf("No existing configuration, writing overrides only, filename: %s", filename)
	}

	for key, value := range overrides {
		base[key] = value
	}

	if err := DumpFile(filename, base); err != nil {
		return err
	}

	logger.Infof("Custom configuration written, filename: %s, keys: %d", filename, len(base))
	return nil
}
