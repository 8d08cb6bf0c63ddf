package httpfs

import (
	"context"
	"syscall"

	"github.com/beam-cloud/httpfs/pkg/common"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog/log"
)

// DirNode is the root, a scheme root, or a host or directory component
// leading to a resource.
type DirNode struct {
	fs.Inode
	filesystem *Filesystem
	path       string
}

var _ fs.InodeEmbedder = (*DirNode)(nil)
var _ fs.NodeOnAdder = (*DirNode)(nil)
var _ fs.NodeLookuper = (*DirNode)(nil)
var _ fs.NodeReaddirer = (*DirNode)(nil)

// FileNode is a remote resource.
type FileNode struct {
	fs.Inode
	filesystem *Filesystem
	path       string
}

var _ fs.InodeEmbedder = (*FileNode)(nil)
var _ fs.NodeGetattrer = (*FileNode)(nil)
var _ fs.NodeOpener = (*FileNode)(nil)
var _ fs.NodeReader = (*FileNode)(nil)

func NewRoot(filesystem *Filesystem) *DirNode {
	return &DirNode{filesystem: filesystem, path: "/"}
}

// OnAdd creates the scheme roots so they are visible before any lookup.
func (n *DirNode) OnAdd(ctx context.Context) {
	if n.path != "/" {
		return
	}

	for _, scheme := range n.filesystem.Codec().Schemes() {
		child := n.NewPersistentInode(ctx, &DirNode{
			filesystem: n.filesystem,
			path:       "/" + scheme,
		}, fs.StableAttr{Mode: syscall.S_IFDIR})
		n.AddChild(scheme, child, true)
	}
}

func (n *DirNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.filesystem.Getattr(ctx, n.path)
	if err != nil {
		return common.ToErrno(err)
	}

	fillAttr(&out.Attr, attr)
	return fs.OK
}

func (n *DirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	log.Debug().Str("path", n.path).Str("name", name).Msg("Lookup called")

	childPath := n.childPath(name)
	attr, err := n.filesystem.Getattr(ctx, childPath)
	if err != nil {
		log.Debug().Err(err).Str("path", childPath).Msg("Lookup failed")
		return nil, common.ToErrno(err)
	}
	fillAttr(&out.Attr, attr)

	if child := n.GetChild(name); child != nil {
		return child, fs.OK
	}

	var node fs.InodeEmbedder
	if attr.IsDir {
		node = &DirNode{filesystem: n.filesystem, path: childPath}
	} else {
		node = &FileNode{filesystem: n.filesystem, path: childPath}
	}

	return n.NewInode(ctx, node, fs.StableAttr{Mode: attr.Mode() & syscall.S_IFMT}), fs.OK
}

func (n *DirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	log.Debug().Str("path", n.path).Msg("Readdir called")

	names, err := n.filesystem.Readdir(ctx, n.path)
	if err != nil {
		return nil, common.ToErrno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, fuse.DirEntry{Name: name, Mode: syscall.S_IFDIR})
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (n *DirNode) childPath(name string) string {
	if n.path == "/" {
		return "/" + name
	}
	return n.path + "/" + name
}

func (n *DirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (inode *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	log.Debug().Str("path", n.path).Str("name", name).Msg("Create called")
	return nil, nil, 0, syscall.EROFS
}

func (n *DirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	log.Debug().Str("path", n.path).Str("name", name).Msg("Mkdir called")
	return nil, syscall.EROFS
}

func (n *DirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	log.Debug().Str("path", n.path).Str("name", name).Msg("Rmdir called")
	return syscall.EROFS
}

func (n *DirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	log.Debug().Str("path", n.path).Str("name", name).Msg("Unlink called")
	return syscall.EROFS
}

func (n *DirNode) Rename(ctx context.Context, oldName string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	log.Debug().Str("path", n.path).Str("old_name", oldName).Str("new_name", newName).Msg("Rename called")
	return syscall.EROFS
}

func (n *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.filesystem.Getattr(ctx, n.path)
	if err != nil {
		return common.ToErrno(err)
	}

	fillAttr(&out.Attr, attr)
	return fs.OK
}

func (n *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	log.Debug().Str("path", n.path).Uint32("flags", flags).Msg("Open called")

	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_KEEP_CACHE, fs.OK
}

func (n *FileNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := n.filesystem.Read(ctx, n.path, int64(len(dest)), off)
	if err != nil {
		log.Warn().Err(err).Str("path", n.path).Int64("offset", off).Msg("read failed")
		return nil, common.ToErrno(err)
	}
	return fuse.ReadResultData(data), fs.OK
}

func (n *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

func fillAttr(out *fuse.Attr, attr common.Attr) {
	out.Mode = attr.Mode()
	out.Size = attr.Size
	out.Blocks = (attr.Size + 511) / 512
	out.Blksize = uint32(common.DefaultBlockSize)
	out.Nlink = 1
	if attr.IsDir {
		out.Nlink = 2
	}
	mtime := attr.Mtime
	out.SetTimes(&mtime, &mtime, &mtime)
}
