// Package naming implements the table's data file naming grammar.
//
//	base file: <fileId>_<writeToken>_<instantTime>.<ext>
//	log file:  .<fileId>_<baseInstantTime>.log.<version>_<writeToken>
//
// File ids and write tokens never contain '_'; instant times never contain '_' or '.'.
package naming

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// FileKind distinguishes base files from log files
type FileKind int

const (
	FileKindBase FileKind = iota + 1
	FileKindLog
)

func (k FileKind) String() string {
	switch k {
	case FileKindBase:
		return "base"
	case FileKindLog:
		return "log"
	default:
		return "unknown"
	}
}

// Supported base file extensions
const (
	ExtParquet = "parquet"
	ExtORC     = "orc"
	ExtHFile   = "hfile"

	logExtension = "log"
)

// DefaultWriteToken is the token of the first attempt of the first task
const DefaultWriteToken = "1-0-1"

var (
	baseFilePattern = regexp.MustCompile(`^([^_/]+)_([0-9]+-[0-9]+-[0-9]+)_([^_./]+)\.(parquet|orc|hfile)$`)
	logFilePattern  = regexp.MustCompile(`^\.([^_/]+)_([^_./]+)\.log\.([0-9]+)(?:_([0-9]+-[0-9]+-[0-9]+))?$`)
)

// FileName is the parsed form of a data file name
type FileName struct {
	Kind       FileKind
	FileID     string
	WriteToken string
	// InstantTime is the commit time for base files and the base instant for log files
	InstantTime string
	// Version is zero for base files
	Version   int
	Extension string
}

// ParseFileName parses a base or log file name (not a path)
func ParseFileName(name string) (FileName, error) {
	if m := baseFilePattern.FindStringSubmatch(name); m != nil {
		return FileName{
			Kind:        FileKindBase,
			FileID:      m[1],
			WriteToken:  m[2],
			InstantTime: m[3],
			Extension:   m[4],
		}, nil
	}
	if m := logFilePattern.FindStringSubmatch(name); m != nil {
		version, err := strconv.Atoi(m[3])
		if err != nil {
			return FileName{}, fmt.Errorf("invalid log version in %q: %w", name, err)
		}
		return FileName{
			Kind:        FileKindLog,
			FileID:      m[1],
			WriteToken:  m[4],
			InstantTime: m[2],
			Version:     version,
			Extension:   logExtension,
		}, nil
	}
	return FileName{}, fmt.Errorf("%q is not a base or log file name", name)
}

// IsDataFileName reports whether name follows the grammar
func IsDataFileName(name string) bool {
	_, err := ParseFileName(name)
	return err == nil
}

// MakeBaseFileName builds a base file name
func MakeBaseFileName(instantTime, writeToken, fileID, ext string) string {
	return fmt.Sprintf("%s_%s_%s.%s", fileID, writeToken, instantTime, ext)
}

// MakeLogFileName builds a log file name
func MakeLogFileName(fileID, baseInstantTime string, version int, writeToken string) string {
	return fmt.Sprintf(".%s_%s.%s.%d_%s", fileID, baseInstantTime, logExtension, version, writeToken)
}

// MakeWriteToken builds the token identifying one write attempt
func MakeWriteToken(taskPartitionID, stageID int, taskAttemptID int64) string {
	return fmt.Sprintf("%d-%d-%d", taskPartitionID, stageID, taskAttemptID)
}

// NewFileID returns a fresh file group id
func NewFileID() string {
	return uuid.NewString()
}

// RelativePath normalises p (absolute, relative or URI) to a clean path relative
// to basePath
func RelativePath(basePath, p string) (string, error) {
	if u, err := url.Parse(p); err == nil && u.Scheme != "" {
		p = u.Path
	}
	p = path.Clean(p)
	if path.IsAbs(p) {
		base := path.Clean(basePath)
		if u, err := url.Parse(basePath); err == nil && u.Scheme != "" {
			base = path.Clean(u.Path)
		}
		if !strings.HasPrefix(p, base+"/") {
			return "", fmt.Errorf("path %q is outside table base path %q", p, basePath)
		}
		p = strings.TrimPrefix(p, base+"/")
	}
	if p == "." || p == "" || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("path %q does not name a file under the table", p)
	}
	return p, nil
}

// SplitPath returns the partition path and file name of a table-relative path.
// Files of a non-partitioned table have an empty partition path.
func SplitPath(relPath string) (partition, name string) {
	dir, name := path.Split(relPath)
	return strings.TrimSuffix(dir, "/"), name
}

// JoinPath joins a partition path and a file name into a table-relative path
func JoinPath(partition, name string) string {
	if partition == "" {
		return name
	}
	return partition + "/" + name
}
