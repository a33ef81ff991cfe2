package objectstore

import (
	"fmt"
	"path"
	"strings"
)

// Storage layout for one program. Retry relies on these keys being stable.

func programPrefix(programID string) string {
	return fmt.Sprintf("programs/%s", programID)
}

func LadderZipKey(programID string) string {
	return programPrefix(programID) + "/ladder_logic.zip"
}

// UnzippedPrefix ends with a slash.
func UnzippedPrefix(programID string) string {
	return programPrefix(programID) + "/unzipped/"
}

// UnzippedKey places an archive member under UnzippedPrefix. rel uses
// forward slashes.
func UnzippedKey(programID, rel string) string {
	return UnzippedPrefix(programID) + strings.TrimPrefix(path.Clean(rel), "/")
}

func ClassificationKey(programID string) string {
	return programPrefix(programID) + "/classification.xlsx"
}

func DeviceCommentKey(programID string) string {
	return programPrefix(programID) + "/device_comment.csv"
}

// ProcessedFilename is processed_{program_id}_{index}.json.
func ProcessedFilename(programID string, index int) string {
	return fmt.Sprintf("processed_%s_%d.json", programID, index)
}

func ProcessedKey(programID string, index int) string {
	return programPrefix(programID) + "/processed/" + ProcessedFilename(programID, index)
}
