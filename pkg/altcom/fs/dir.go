package fs

import (
	"context"
	"fmt"

	"github.com/LeoCommon/altcom/pkg/altcom"
)

// Dir is the single directory handle the modem supports at a time
type Dir struct {
	fs     *FS
	handle int32
	closed bool
}

// OpenDir fails with ErrBusy while another Dir is open
func (f *FS) OpenDir(ctx context.Context, path string) (*Dir, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	if !f.dir.TryAcquire() {
		return nil, fmt.Errorf("%w: %w", ErrBusy, altcom.ErrBusy)
	}

	handle, err := f.call(ctx, CmdOpenDir, pathRequest{path: path}, nil)
	if err != nil {
		f.dir.Release()
		return nil, err
	}
	return &Dir{fs: f, handle: handle}, nil
}

// Next returns the next entry, ok is false at the end of the directory
func (d *Dir) Next(ctx context.Context) (entry DirEntry, ok bool, err error) {
	if d.closed {
		return DirEntry{}, false, fmt.Errorf("%w: directory closed", ErrInvalid)
	}

	var resp readDirResponse
	if _, err := d.fs.call(ctx, CmdReadDir, handleRequest{handle: d.handle}, &resp); err != nil {
		return DirEntry{}, false, err
	}
	if !resp.more {
		return DirEntry{}, false, nil
	}
	return resp.entry, true, nil
}

// Close releases the handle even when the modem reports an error
func (d *Dir) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true
	defer d.fs.dir.Release()

	_, err := d.fs.call(ctx, CmdCloseDir, handleRequest{handle: d.handle}, nil)
	return err
}
