package fs

import (
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/LeoCommon/altcom/pkg/wire"
)

const (
	CmdOpen     frame.CommandID = 0x0201
	CmdClose    frame.CommandID = 0x0202
	CmdRead     frame.CommandID = 0x0203
	CmdWrite    frame.CommandID = 0x0204
	CmdSeek     frame.CommandID = 0x0205
	CmdStat     frame.CommandID = 0x0206
	CmdRemove   frame.CommandID = 0x0207
	CmdFileList frame.CommandID = 0x0208
	CmdOpenDir  frame.CommandID = 0x0209
	CmdReadDir  frame.CommandID = 0x020A
	CmdCloseDir frame.CommandID = 0x020B
)

const (
	// MaxPath includes the terminating NUL
	MaxPath = 256
	MaxName = 64
	// MaxIO is the largest chunk moved by a single Read or Write
	MaxIO = 1024
	// MaxFileList is the largest number of names a single FileList returns
	MaxFileList = 32
)

type OpenFlag uint32

const (
	ReadOnly  OpenFlag = 0x0000
	WriteOnly OpenFlag = 0x0001
	ReadWrite OpenFlag = 0x0002
	Create    OpenFlag = 0x0100
	Truncate  OpenFlag = 0x0200
	Append    OpenFlag = 0x0400
	Exclusive OpenFlag = 0x0800

	accessMask = ReadOnly | WriteOnly | ReadWrite
	validFlags = accessMask | Create | Truncate | Append | Exclusive
)

type Whence uint8

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

type EntryType uint32

const (
	TypeFile EntryType = 0
	TypeDir  EntryType = 1
)

func (t EntryType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	default:
		return "unknown"
	}
}

type FileInfo struct {
	Type EntryType
	Size int64
}

type DirEntry struct {
	Type EntryType
	Name string
}

type pathRequest struct {
	path string
}

func (r pathRequest) WireSize() int { return MaxPath }

func (r pathRequest) MarshalWire(e *wire.Encoder) {
	e.FixedString(r.path, MaxPath)
}

type openRequest struct {
	path  string
	flags OpenFlag
	mode  uint32
}

func (r openRequest) WireSize() int { return 4 + 4 + MaxPath }

func (r openRequest) MarshalWire(e *wire.Encoder) {
	e.Uint32(uint32(r.flags))
	e.Uint32(r.mode)
	e.FixedString(r.path, MaxPath)
}

// handleRequest addresses an open file or directory
type handleRequest struct {
	handle int32
}

func (r handleRequest) WireSize() int { return 4 }

func (r handleRequest) MarshalWire(e *wire.Encoder) {
	e.Int32(r.handle)
}

type readRequest struct {
	fd  int32
	len uint16
}

func (r readRequest) WireSize() int { return 4 + 2 }

func (r readRequest) MarshalWire(e *wire.Encoder) {
	e.Int32(r.fd)
	e.Uint16(r.len)
}

// readResponse copies the data straight into the caller's slice
type readResponse struct {
	dst []byte
	n   int
}

func (r *readResponse) MaxWireSize() int { return 2 + len(r.dst) }

func (r *readResponse) UnmarshalWire(d *wire.Decoder) {
	n, declared, _ := d.Count(len(r.dst))
	data := d.Raw(n)
	// a count beyond the request leaves bytes that Finish rejects
	d.Skip(declared - n)
	if d.Err() == nil {
		r.n = copy(r.dst, data)
	}
}

type writeRequest struct {
	fd   int32
	data []byte
}

func (r writeRequest) WireSize() int { return 4 + 2 + len(r.data) }

func (r writeRequest) MarshalWire(e *wire.Encoder) {
	e.Int32(r.fd)
	e.Uint16(uint16(len(r.data)))
	e.Raw(r.data)
}

type seekRequest struct {
	fd     int32
	offset int64
	whence Whence
}

func (r seekRequest) WireSize() int { return 4 + 8 + 1 }

func (r seekRequest) MarshalWire(e *wire.Encoder) {
	e.Int32(r.fd)
	e.Int64(r.offset)
	e.Uint8(uint8(r.whence))
}

type seekResponse struct {
	pos int64
}

func (r *seekResponse) MaxWireSize() int { return 8 }

func (r *seekResponse) UnmarshalWire(d *wire.Decoder) {
	r.pos = d.Int64()
}

type statResponse struct {
	info FileInfo
}

func (r *statResponse) MaxWireSize() int { return 4 + 4 }

func (r *statResponse) UnmarshalWire(d *wire.Decoder) {
	r.info.Type = EntryType(d.Uint32())
	r.info.Size = int64(d.Uint32())
}

type fileListRequest struct {
	path  string
	limit uint16
}

func (r fileListRequest) WireSize() int { return MaxPath + 2 }

func (r fileListRequest) MarshalWire(e *wire.Encoder) {
	e.FixedString(r.path, MaxPath)
	e.Uint16(r.limit)
}

// fileListResponse holds at most limit names. A larger count is read as
// limit names, the rest is left for the exact length check to reject.
type fileListResponse struct {
	limit   int
	names   []string
	clamped bool
}

func (r *fileListResponse) MaxWireSize() int { return 2 + r.limit*MaxName }

func (r *fileListResponse) UnmarshalWire(d *wire.Decoder) {
	n, _, clamped := d.Count(r.limit)
	r.clamped = clamped
	r.names = make([]string, 0, n)
	for i := 0; i < n; i++ {
		r.names = append(r.names, d.FixedString(MaxName))
	}
}

type readDirResponse struct {
	more  bool
	entry DirEntry
}

func (r *readDirResponse) MaxWireSize() int { return 1 + 4 + MaxName }

func (r *readDirResponse) UnmarshalWire(d *wire.Decoder) {
	r.more = d.Bool()
	r.entry.Type = EntryType(d.Uint32())
	r.entry.Name = d.FixedString(MaxName)
}
