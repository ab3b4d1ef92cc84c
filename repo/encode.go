package repo

import (
	"github.com/dswd/zvault/bundle"
	"github.com/dswd/zvault/codec/chash"
	"github.com/dswd/zvault/manifest"
	"github.com/dswd/zvault/zerr"
)

// InodeTree is an in-memory filesystem entry awaiting encoding: an
// Inode plus, for directories, its children keyed by name. A backup
// driver builds one of these from a source-tree scan; EncodeTree turns
// it into meta chunks.
type InodeTree struct {
	Inode    manifest.Inode
	Children map[string]*InodeTree
}

// EncodeTree is the recursive half of spec.md §4.8's put_backup:
// "encode recursively: write inode bytes as meta chunks, build
// chunk-lists, until a root chunk-list exists." It walks children
// before their parent (post-order), so each directory's Children map
// is populated with its kids' chunk-list bytes — the form markInode
// expects to resolve, not the child's raw inode bytes — before the
// directory's own inode is marshaled and written.
func (r *Repository) EncodeTree(n *InodeTree) (bundle.ChunkList, error) {
	inode := n.Inode
	if len(n.Children) > 0 {
		inode.Children = make(map[string][]byte, len(n.Children))
		for name, child := range n.Children {
			childCL, err := r.EncodeTree(child)
			if err != nil {
				return nil, err
			}
			inode.Children[name] = childCL.Marshal()
		}
	}

	if err := inode.Validate(); err != nil {
		return nil, err
	}
	raw, err := inode.Marshal()
	if err != nil {
		return nil, err
	}
	if _, _, err := r.AddChunk(bundle.Meta, raw); err != nil {
		return nil, err
	}

	fp, err := chash.Sum(r.config.HashMethod, raw)
	if err != nil {
		return nil, zerr.Wrap(err, zerr.Config, "hashing inode")
	}
	return bundle.ChunkList{{Fingerprint: fp, Size: uint32(len(raw))}}, nil
}

// PutBackupTree encodes root recursively into meta chunks and persists
// the resulting Backup record under name, filling in meta.Root from
// the recursive encode — the complete realization of spec.md §4.8's
// put_backup for callers that haven't already built a root chunk list
// by hand.
func (r *Repository) PutBackupTree(name string, root *InodeTree, meta manifest.Backup) error {
	rootCL, err := r.EncodeTree(root)
	if err != nil {
		return err
	}
	meta.Root = rootCL.Marshal()
	return r.PutBackup(name, &meta)
}
