package fsops

import (
	"archive/zip"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"frontpipe/pkg/errors"
)

// DropDirName is the subdirectory of the base directory that holds dated
// report drops.
const DropDirName = "Data Files"

// maxSuffixAttempts bounds how many short random suffixes are tried before
// falling back to a full random token.
const maxSuffixAttempts = 5

// EnsureDropDir creates (if needed) and returns the drop directory for the
// given target date: <base>/Data Files/<date>.
func EnsureDropDir(base, targetDate string) (string, error) {
	dir := filepath.Join(base, DropDirName, targetDate)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.RelocationError(errors.CodeDestinationError, dir, err)
	}
	return dir, nil
}

// MoveNoClobber moves src into dstDir without ever overwriting an existing
// file. On name collision a short random disambiguator is inserted before
// the extension; if those all collide a full random token is used. The final
// destination path is returned.
func MoveNoClobber(src, dstDir string) (string, error) {
	if _, err := os.Stat(src); err != nil {
		return "", errors.RelocationError(errors.CodeMoveFailed, src, err)
	}

	base := filepath.Base(src)
	dst := filepath.Join(dstDir, base)

	for attempt := 0; ; attempt++ {
		if _, err := os.Lstat(dst); err == nil {
			dst = filepath.Join(dstDir, collisionName(base, attempt))
			continue
		} else if !os.IsNotExist(err) {
			return "", errors.RelocationError(errors.CodeDestinationError, dst, err)
		}

		err := os.Rename(src, dst)
		if err == nil {
			return dst, nil
		}
		if os.IsExist(err) {
			// lost a race for the name, pick another
			dst = filepath.Join(dstDir, collisionName(base, attempt))
			continue
		}
		if isCrossDevice(err) {
			if err := copyAndRemove(src, dst); err != nil {
				return "", err
			}
			return dst, nil
		}
		return "", errors.RelocationError(errors.CodeMoveFailed, src, err)
	}
}

func collisionName(base string, attempt int) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if attempt < maxSuffixAttempts {
		return fmt.Sprintf("%s_%s%s", stem, randomToken(3), ext)
	}
	return fmt.Sprintf("%s_%s%s", stem, randomToken(12), ext)
}

func randomToken(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func isCrossDevice(err error) bool {
	if linkErr, ok := err.(*os.LinkError); ok {
		return strings.Contains(linkErr.Err.Error(), "cross-device")
	}
	return false
}

// copyAndRemove emulates a move across filesystem boundaries. The partial
// destination is cleaned up on any failure.
func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.RelocationError(errors.CodeMoveFailed, src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.RelocationError(errors.CodeDestinationError, dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return errors.RelocationError(errors.CodeMoveFailed, src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return errors.RelocationError(errors.CodeDestinationError, dst, err)
	}

	if err := os.Remove(src); err != nil {
		return errors.RelocationError(errors.CodeMoveFailed, src, err)
	}
	return nil
}

// ExtractArchiveMembers extracts regular files from a zip archive into
// destDir, flattening any directory structure inside the archive. When
// pattern is non-nil only member basenames matching it are extracted. The
// paths of the extracted files are returned.
func ExtractArchiveMembers(zipPath, destDir string, pattern *regexp.Regexp) ([]string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, errors.RelocationError(errors.CodeArchiveError, zipPath, err)
	}
	defer reader.Close()

	var extracted []string
	for _, member := range reader.File {
		if member.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(member.Name)
		if name == "" || name == "." {
			continue
		}
		if pattern != nil && !pattern.MatchString(name) {
			continue
		}

		path, err := extractMember(member, destDir, name)
		if err != nil {
			return extracted, err
		}
		extracted = append(extracted, path)
	}
	return extracted, nil
}

func extractMember(member *zip.File, destDir, name string) (string, error) {
	rc, err := member.Open()
	if err != nil {
		return "", errors.RelocationError(errors.CodeArchiveError, member.Name, err)
	}
	defer rc.Close()

	path := filepath.Join(destDir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", errors.RelocationError(errors.CodeDestinationError, path, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(path)
		return "", errors.RelocationError(errors.CodeArchiveError, member.Name, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", errors.RelocationError(errors.CodeDestinationError, path, err)
	}
	return path, nil
}
