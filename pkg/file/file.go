// Package file has the small filesystem helpers used for the config file
package file

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/LeoCommon/altcom/pkg/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrPathIsDir  = errors.New("supplied path is a directory")
	ErrPathIsFile = errors.New("supplied path is a file")
)

// CreateFileP creates a file and all its directories.
// Make sure you close the file when using this function!
func CreateFileP(filePath string, perm fs.FileMode) (*os.File, error) {
	absDirPath, err := filepath.Abs(filepath.Dir(filePath))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(absDirPath, perm); err != nil {
		return nil, err
	}

	return os.Create(filePath)
}

// WriteAtomic replaces filePath with data. Readers see either the old or
// the new content, never a partial write. Missing directories are created.
func WriteAtomic(filePath string, data []byte, perm fs.FileMode) (err error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := IsDir(filePath); err == nil {
		return ErrPathIsDir
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filePath)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	_, err = tmp.Write(data)
	err = multierr.Combine(err, tmp.Sync(), tmp.Close())
	if err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}

	if err = MoveFile(tmp.Name(), filePath); err != nil {
		log.Error("could not replace file", zap.String("path", filePath), zap.Error(err))
	}
	return err
}

func MoveFile(sourcePath string, destPath string) error {
	return os.Rename(sourcePath, destPath)
}

func Info(path string) (fs.FileInfo, error) {
	s, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func Exists(path string) error {
	s, err := Info(path)
	if err != nil {
		return err
	}

	if s.IsDir() {
		return ErrPathIsDir
	}

	return nil
}

func IsDir(path string) error {
	s, err := Info(path)
	if err != nil {
		return err
	}

	if !s.IsDir() {
		return ErrPathIsFile
	}

	return nil
}
