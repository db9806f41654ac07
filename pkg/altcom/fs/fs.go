// Package fs accesses the file system of the modem
package fs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeoCommon/altcom/pkg/altcom"
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/LeoCommon/altcom/pkg/log"
	"go.uber.org/zap"
)

// Modem result codes with a dedicated error
const (
	codeNotFound int32 = -2
	codeBusy     int32 = -16
	codeExists   int32 = -17
	codeInvalid  int32 = -22
)

var (
	// ErrRequest reports that the request could not be completed, the
	// cause (transport, timeout, protocol, no memory) stays wrapped inside
	ErrRequest  = errors.New("file system request failed")
	ErrNotFound = errors.New("no such file or directory")
	ErrBusy     = errors.New("file system resource busy")
	ErrExists   = errors.New("file exists")
	ErrInvalid  = errors.New("invalid file system argument")
)

type FS struct {
	c *altcom.Client
	// Timeout per request, zero uses the client default
	Timeout time.Duration

	dir altcom.InFlight
}

func New(c *altcom.Client) *FS {
	return &FS{c: c}
}

func (f *FS) call(ctx context.Context, cmd frame.CommandID, req altcom.Request, resp altcom.Response) (int32, error) {
	code, err := f.c.Call(ctx, cmd, req, resp, f.Timeout)
	if err != nil {
		log.Debug("file system request failed", zap.Stringer("cmd", cmd), zap.Error(err))
		return code, mapError(err)
	}
	return code, nil
}

func mapError(err error) error {
	if code, ok := altcom.ModemCode(err); ok {
		switch code {
		case codeNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case codeBusy:
			return fmt.Errorf("%w: %w", ErrBusy, err)
		case codeExists:
			return fmt.Errorf("%w: %w", ErrExists, err)
		case codeInvalid:
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		default:
			return err
		}
	}

	switch {
	case errors.Is(err, altcom.ErrNotInitialized):
		return err
	case errors.Is(err, altcom.ErrInvalidParam):
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	default:
		return fmt.Errorf("%w: %w", ErrRequest, err)
	}
}

func (f *FS) ready() error {
	if !f.c.Ready() {
		return altcom.ErrNotInitialized
	}
	return nil
}

func checkPath(path string) error {
	if path == "" || len(path) >= MaxPath {
		return fmt.Errorf("%w: %w", ErrInvalid, altcom.NewInvalidParamError("path", "length %d outside 1..%d", len(path), MaxPath-1))
	}
	return nil
}

// Open returns the modem file descriptor
func (f *FS) Open(ctx context.Context, path string, flags OpenFlag, mode uint32) (int32, error) {
	if err := f.ready(); err != nil {
		return -1, err
	}
	if err := checkPath(path); err != nil {
		return -1, err
	}
	if flags&^validFlags != 0 || flags&accessMask == accessMask {
		return -1, fmt.Errorf("%w: %w", ErrInvalid, altcom.NewInvalidParamError("flags", "0x%x", uint32(flags)))
	}

	fd, err := f.call(ctx, CmdOpen, openRequest{path: path, flags: flags, mode: mode}, nil)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

func (f *FS) Close(ctx context.Context, fd int32) error {
	if err := f.ready(); err != nil {
		return err
	}
	if fd < 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, altcom.NewInvalidParamError("fd", "%d", fd))
	}

	_, err := f.call(ctx, CmdClose, handleRequest{handle: fd}, nil)
	return err
}

// Read fills p with up to MaxIO bytes and returns the count, zero at end of file
func (f *FS) Read(ctx context.Context, fd int32, p []byte) (int, error) {
	if err := f.ready(); err != nil {
		return 0, err
	}
	if fd < 0 || len(p) == 0 {
		return 0, fmt.Errorf("%w: %w", ErrInvalid, altcom.NewInvalidParamError("read", "fd %d len %d", fd, len(p)))
	}
	if len(p) > MaxIO {
		p = p[:MaxIO]
	}

	resp := &readResponse{dst: p}
	n, err := f.call(ctx, CmdRead, readRequest{fd: fd, len: uint16(len(p))}, resp)
	if err != nil {
		return 0, err
	}
	if int(n) != resp.n {
		return 0, fmt.Errorf("%w: %w: result %d but %d data bytes", ErrRequest, altcom.ErrProtocol, n, resp.n)
	}
	return resp.n, nil
}

// Write sends up to MaxIO bytes of p and returns how many the modem took
func (f *FS) Write(ctx context.Context, fd int32, p []byte) (int, error) {
	if err := f.ready(); err != nil {
		return 0, err
	}
	if fd < 0 || len(p) == 0 {
		return 0, fmt.Errorf("%w: %w", ErrInvalid, altcom.NewInvalidParamError("write", "fd %d len %d", fd, len(p)))
	}
	if len(p) > MaxIO {
		p = p[:MaxIO]
	}

	n, err := f.call(ctx, CmdWrite, writeRequest{fd: fd, data: p}, nil)
	if err != nil {
		return 0, err
	}
	if int(n) > len(p) {
		return 0, fmt.Errorf("%w: %w: wrote %d of %d bytes", ErrRequest, altcom.ErrProtocol, n, len(p))
	}
	return int(n), nil
}

// Seek returns the new offset from the start of the file
func (f *FS) Seek(ctx context.Context, fd int32, offset int64, whence Whence) (int64, error) {
	if err := f.ready(); err != nil {
		return 0, err
	}
	if fd < 0 || whence > SeekEnd {
		return 0, fmt.Errorf("%w: %w", ErrInvalid, altcom.NewInvalidParamError("seek", "fd %d whence %d", fd, whence))
	}

	var resp seekResponse
	if _, err := f.call(ctx, CmdSeek, seekRequest{fd: fd, offset: offset, whence: whence}, &resp); err != nil {
		return 0, err
	}
	return resp.pos, nil
}

// Stat returns the zero FileInfo on every error
func (f *FS) Stat(ctx context.Context, path string) (FileInfo, error) {
	if err := f.ready(); err != nil {
		return FileInfo{}, err
	}
	if err := checkPath(path); err != nil {
		return FileInfo{}, err
	}

	var resp statResponse
	if _, err := f.call(ctx, CmdStat, pathRequest{path: path}, &resp); err != nil {
		return FileInfo{}, err
	}
	return resp.info, nil
}

func (f *FS) Remove(ctx context.Context, path string) error {
	if err := f.ready(); err != nil {
		return err
	}
	if err := checkPath(path); err != nil {
		return err
	}

	_, err := f.call(ctx, CmdRemove, pathRequest{path: path}, nil)
	return err
}

// FileList returns up to limit names from the directory. The modem may send
// fewer names than asked for, a count above limit or a payload that does not
// hold exactly count names is a protocol error.
func (f *FS) FileList(ctx context.Context, path string, limit int) ([]string, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxFileList {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, altcom.NewInvalidParamError("limit", "%d outside 1..%d", limit, MaxFileList))
	}

	resp := &fileListResponse{limit: limit}
	if _, err := f.call(ctx, CmdFileList, fileListRequest{path: path, limit: uint16(limit)}, resp); err != nil {
		return nil, err
	}
	if resp.clamped {
		return nil, fmt.Errorf("%w: %w: more than %d names", ErrRequest, altcom.ErrProtocol, limit)
	}
	return resp.names, nil
}
