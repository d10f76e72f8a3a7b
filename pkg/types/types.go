// Package types holds the domain entities and value types shared by every
// Tarbox subsystem: tenants, inodes, layers, mount entries, publications, and
// the result shapes returned by the filesystem facade.
package types

import (
	"time"

	"github.com/google/uuid"
)

// TenantID identifies a tenant (opaque 128-bit id).
type TenantID = uuid.UUID

// LayerID identifies a layer.
type LayerID = uuid.UUID

// MountID identifies a mount entry.
type MountID = uuid.UUID

// PublicationID identifies a published mount.
type PublicationID = uuid.UUID

// InodeID is a per-tenant serial 64-bit inode number.
type InodeID = int64

// Tenant is the top-level isolation unit; it owns a namespace and every
// entity within it.
type Tenant struct {
	ID        TenantID  `json:"id"`
	Name      string    `json:"name"`
	RootInode InodeID   `json:"root_inode"`
	CreatedAt time.Time `json:"created_at"`
}

// FileKind is the kind of an inode.
type FileKind string

const (
	FileKindFile      FileKind = "file"
	FileKindDirectory FileKind = "directory"
	FileKindSymlink   FileKind = "symlink"
)

// Inode is a (tenant, serial id) pair carrying POSIX metadata. The root inode
// of every tenant has no parent and name "/".
type Inode struct {
	TenantID TenantID  `json:"tenant_id"`
	ID       InodeID   `json:"id"`
	ParentID *InodeID  `json:"parent_id"`
	Name     string    `json:"name"`
	Kind     FileKind  `json:"kind"`
	Mode     uint32    `json:"mode"`
	UID      uint32    `json:"uid"`
	GID      uint32    `json:"gid"`
	Size     int64     `json:"size"`
	Atime    time.Time `json:"atime"`
	Mtime    time.Time `json:"mtime"`
	Ctime    time.Time `json:"ctime"`
}

// IsDir reports whether the inode is a directory.
func (i *Inode) IsDir() bool { return i.Kind == FileKindDirectory }

// Encoding is a declared text encoding. ASCII ⊂ UTF-8 ⊂ Latin-1 in terms of
// the byte sequences each accepts; the detector reports the strictest match.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingASCII  Encoding = "ascii"
	EncodingLatin1 Encoding = "latin-1"
)

// LineEnding is a stored line-ending style. Mixed and absent endings are
// normalized to LF before storage.
type LineEnding string

const (
	LineEndingLF   LineEnding = "lf"
	LineEndingCRLF LineEnding = "crlf"
	LineEndingCR   LineEnding = "cr"
)

// Terminator returns the byte sequence for the line ending.
func (le LineEnding) Terminator() string {
	switch le {
	case LineEndingCRLF:
		return "\r\n"
	case LineEndingCR:
		return "\r"
	default:
		return "\n"
	}
}

// TextFileMeta describes one text representation of a file in one layer. When
// this row exists the file's contents in that layer reconstruct from text
// blocks; when absent, from binary data blocks.
type TextFileMeta struct {
	TenantID        TenantID   `json:"tenant_id"`
	InodeID         InodeID    `json:"inode_id"`
	LayerID         LayerID    `json:"layer_id"`
	TotalLines      int        `json:"total_lines"`
	Encoding        Encoding   `json:"encoding"`
	LineEnding      LineEnding `json:"line_ending"`
	TrailingNewline bool       `json:"trailing_newline"`
}

// TextBlock is a content-addressed storage row for one or more text lines.
type TextBlock struct {
	ID         int64     `json:"id"`
	Hash       string    `json:"hash"`
	Payload    string    `json:"payload"`
	LineCount  int       `json:"line_count"`
	ByteSize   int64     `json:"byte_size"`
	Encoding   Encoding  `json:"encoding"`
	RefCount   int64     `json:"ref_count"`
	LastAccess time.Time `json:"last_access"`
}

// DataBlock is a binary content row of at most 4 KiB for one inode.
type DataBlock struct {
	TenantID   TenantID `json:"tenant_id"`
	InodeID    InodeID  `json:"inode_id"`
	BlockIndex int      `json:"block_index"`
	Payload    []byte   `json:"-"`
	Size       int      `json:"size"`
	Hash       string   `json:"hash"`
}

// LayerStatus is the lifecycle state of a layer.
type LayerStatus string

const (
	LayerStatusActive   LayerStatus = "active"
	LayerStatusCreating LayerStatus = "creating"
	LayerStatusDeleting LayerStatus = "deleting"
	LayerStatusArchived LayerStatus = "archived"
)

// Layer is one link in a mount's chain of snapshots. Per mount, at most one
// layer has IsWorking set.
type Layer struct {
	ID          LayerID     `json:"layer_id"`
	TenantID    TenantID    `json:"tenant_id"`
	ParentID    *LayerID    `json:"parent_layer_id"`
	MountID     *MountID    `json:"mount_id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	IsWorking   bool        `json:"is_working"`
	CreatedAt   time.Time   `json:"created_at"`
	FileCount   int64       `json:"file_count"`
	TotalBytes  int64       `json:"total_bytes"`
	Status      LayerStatus `json:"status"`
	ReadOnly    bool        `json:"read_only"`
}

// ChangeKind classifies a layer entry.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeModify ChangeKind = "modify"
	ChangeDelete ChangeKind = "delete"
)

// TextDiff is the advisory line-level diff summary attached to text changes.
type TextDiff struct {
	LinesAdded    int `json:"lines_added"`
	LinesDeleted  int `json:"lines_deleted"`
	LinesModified int `json:"lines_modified"`
}

// LayerEntry is a change record keyed by (layer, path). A delete entry acts as
// a whiteout hiding the path in ancestor layers.
type LayerEntry struct {
	LayerID    LayerID    `json:"layer_id"`
	Path       string     `json:"path"`
	InodeID    InodeID    `json:"inode_id"`
	ChangeKind ChangeKind `json:"change_kind"`
	SizeDelta  int64      `json:"size_delta"`
	TextDiff   *TextDiff  `json:"text_diff,omitempty"`
}

// SourceKind is the closed discriminated union of mount sources.
type SourceKind string

const (
	SourceHost         SourceKind = "host"
	SourceLayer        SourceKind = "layer"
	SourcePublished    SourceKind = "published"
	SourceWorkingLayer SourceKind = "working_layer"
)

// AccessMode controls how writes behave on a mount.
type AccessMode string

const (
	ModeReadOnly    AccessMode = "ro"
	ModeReadWrite   AccessMode = "rw"
	ModeCopyOnWrite AccessMode = "cow"
)

// MountEntry binds a virtual path in a tenant's namespace to a source. Exactly
// one group of discriminant fields is populated for the entry's SourceKind.
type MountEntry struct {
	ID          MountID    `json:"id"`
	TenantID    TenantID   `json:"tenant_id"`
	Name        string     `json:"name"`
	VirtualPath string     `json:"virtual_path"`
	IsFile      bool       `json:"is_file"`
	SourceKind  SourceKind `json:"source_kind"`

	// host
	HostPath string `json:"host_path,omitempty"`
	// layer
	SourceMountID *MountID `json:"source_mount_id,omitempty"`
	SourceLayerID *LayerID `json:"source_layer_id,omitempty"`
	SourceSubpath string   `json:"source_subpath,omitempty"`
	// published
	PublicationName string `json:"publication_name,omitempty"`
	// working_layer
	WorkingLayerID *LayerID `json:"working_layer_id,omitempty"`

	AccessMode AccessMode        `json:"access_mode"`
	Enabled    bool              `json:"enabled"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// PublicationScope controls who may read a published mount.
type PublicationScope string

const (
	ScopePublic    PublicationScope = "public"
	ScopeAllowList PublicationScope = "allow_list"
)

// PublicationTarget selects what a publication resolves to.
type PublicationTarget string

const (
	// TargetLayer pins the publication to a specific snapshot.
	TargetLayer PublicationTarget = "layer"
	// TargetWorkingLayer tracks the publisher's live working layer.
	TargetWorkingLayer PublicationTarget = "working_layer"
)

// PublishedMount exposes one tenant's mount entry to other tenants under a
// globally unique name.
type PublishedMount struct {
	ID             PublicationID     `json:"id"`
	TenantID       TenantID          `json:"tenant_id"`
	MountEntryID   MountID           `json:"mount_entry_id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Target         PublicationTarget `json:"target"`
	PinnedLayerID  *LayerID          `json:"pinned_layer_id,omitempty"`
	Scope          PublicationScope  `json:"scope"`
	AllowedTenants []TenantID        `json:"allowed_tenants,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// CowResult describes the outcome of one copy-on-write file write.
type CowResult struct {
	IsText     bool       `json:"is_text"`
	ChangeKind ChangeKind `json:"change_kind"`
	SizeDelta  int64      `json:"size_delta"`
	TextDiff   *TextDiff  `json:"text_diff,omitempty"`
}

// SnapshotResult reports the outcome of one mount in a multi-mount snapshot.
// Exactly one of LayerID or Skipped is meaningful.
type SnapshotResult struct {
	MountName string   `json:"mount_name"`
	LayerID   *LayerID `json:"layer_id,omitempty"`
	Skipped   bool     `json:"skipped"`
	Reason    string   `json:"reason,omitempty"`
}

// FileStateKind is the outcome of a union-view lookup.
type FileStateKind int

const (
	FileStateNotFound FileStateKind = iota
	FileStateExists
	FileStateDeleted
)

// FileState is the union-view resolution of one path.
type FileState struct {
	Kind    FileStateKind
	InodeID InodeID
	// LayerID is the chain layer whose entry decided the state.
	LayerID LayerID
	Entry   *LayerEntry
}

// FileVersion is one historical change of a path along a chain.
type FileVersion struct {
	Layer         Layer      `json:"layer"`
	InodeSnapshot InodeID    `json:"inode_snapshot"`
	ChangeKind    ChangeKind `json:"change_kind"`
}

// DirEntry is one (name, type, attributes) triple in a directory listing.
type DirEntry struct {
	Name string   `json:"name"`
	Kind FileKind `json:"kind"`
	Attr FileAttr `json:"attr"`
}

// FileAttr is the POSIX attribute set returned by metadata operations.
type FileAttr struct {
	Kind  FileKind  `json:"kind"`
	Mode  uint32    `json:"mode"`
	UID   uint32    `json:"uid"`
	GID   uint32    `json:"gid"`
	Size  int64     `json:"size"`
	Atime time.Time `json:"atime"`
	Mtime time.Time `json:"mtime"`
	Ctime time.Time `json:"ctime"`
}

// SetAttrRequest carries the optional fields of a set-attributes call; nil
// fields are left unchanged.
type SetAttrRequest struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *int64
	Atime *time.Time
	Mtime *time.Time
}

// StatfsInfo reports filesystem statistics.
type StatfsInfo struct {
	TotalBytes    uint64 `json:"total_bytes"`
	FreeBytes     uint64 `json:"free_bytes"`
	AvailBytes    uint64 `json:"avail_bytes"`
	TotalInodes   uint64 `json:"total_inodes"`
	FreeInodes    uint64 `json:"free_inodes"`
	BlockSize     uint32 `json:"block_size"`
	MaxNameLength uint32 `json:"max_name_length"`
}

// UsageStats is the document served by the hook path /.tarbox/stats/usage.
type UsageStats struct {
	Inodes     int64 `json:"inodes"`
	DataBlocks int64 `json:"data_blocks"`
	TextBlocks int64 `json:"text_blocks"`
	Layers     int64 `json:"layers"`
	TotalBytes int64 `json:"total_bytes"`
}

// AuditRecord is one row of the simple audit hook.
type AuditRecord struct {
	ID        int64     `json:"id"`
	TenantID  TenantID  `json:"tenant_id"`
	Operation string    `json:"operation"`
	Path      string    `json:"path"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
