package repo

import (
	"github.com/dswd/zvault/bundle"
	"github.com/dswd/zvault/bundlecache"
	"github.com/dswd/zvault/codec/chash"
	"github.com/dswd/zvault/manifest"
)

// Analyze walks every backup's inode tree, marks every data chunk it
// references, and reports each bundle's used-ratio — the input vacuum
// consumes to decide which bundles are worth rewriting. Meta chunks
// (encoded inodes and nested chunk lists) are not marked, so they
// count as unused.
func (r *Repository) Analyze() (AnalyzeResult, error) {
	names, err := r.ListBackups()
	if err != nil {
		return AnalyzeResult{}, err
	}

	used := map[[chash.Size]byte]uint32{} // fingerprint -> size, deduped across backups
	for _, name := range names {
		b, err := r.GetBackup(name)
		if err != nil {
			return AnalyzeResult{}, err
		}
		root, err := b.RootChunkList()
		if err != nil {
			return AnalyzeResult{}, err
		}
		rootInode, err := r.decodeInodeFromChunkList(root)
		if err != nil {
			return AnalyzeResult{}, err
		}
		if err := r.markInode(rootInode, used); err != nil {
			return AnalyzeResult{}, err
		}
	}

	usageByBundle := map[uint32]*BundleUsage{}
	if err := r.cache.Each(func(id [16]byte, e bundlecache.Entry) error {
		bn, ok, err := r.bmap.Lookup(id)
		if err != nil || !ok {
			return err
		}
		usageByBundle[bn] = &BundleUsage{BundleNumber: bn, TotalSize: e.Info.RawSize}
		return nil
	}); err != nil {
		return AnalyzeResult{}, err
	}

	for fp, size := range used {
		entry, ok := r.idx.Get(fp)
		if !ok {
			continue
		}
		u, ok := usageByBundle[entry.BundleNumber]
		if !ok {
			u = &BundleUsage{BundleNumber: entry.BundleNumber}
			usageByBundle[entry.BundleNumber] = u
		}
		u.UsedSize += uint64(size)
	}

	var result AnalyzeResult
	for _, u := range usageByBundle {
		result.Bundles = append(result.Bundles, *u)
		if u.TotalSize > u.UsedSize {
			result.Reclaimable += u.TotalSize - u.UsedSize
		}
	}
	return result, nil
}

// markInode records every data chunk an inode (and its descendants)
// references into used.
func (r *Repository) markInode(n *manifest.Inode, used map[[chash.Size]byte]uint32) error {
	if n.Data != nil {
		cl, err := r.resolveDataChunks(n.Data)
		if err != nil {
			return err
		}
		for _, e := range cl {
			used[e.Fingerprint] = e.Size
		}
	}
	for _, childBytes := range n.Children {
		childCL, err := bundle.UnmarshalChunkList(childBytes)
		if err != nil {
			return err
		}
		child, err := r.decodeInodeFromChunkList(childCL)
		if err != nil {
			return err
		}
		if err := r.markInode(child, used); err != nil {
			return err
		}
	}
	return nil
}

// resolveDataChunks walks a DataRef's nesting down to the raw data
// chunk list: nesting 0 means Bytes already is that chunk list;
// nesting>0 means Bytes is a chunk list of meta-chunk references that
// must each be fetched and resolved one level further.
func (r *Repository) resolveDataChunks(ref *manifest.DataRef) (bundle.ChunkList, error) {
	cl, err := bundle.UnmarshalChunkList(ref.Bytes)
	if err != nil {
		return nil, err
	}
	if ref.Nesting == 0 {
		return cl, nil
	}

	var out bundle.ChunkList
	for _, e := range cl {
		entry, ok := r.idx.Get(e.Fingerprint)
		if !ok {
			return nil, ErrChunkUnreachable
		}
		data, err := r.GetChunk(entry.BundleNumber, entry.ChunkIndex)
		if err != nil {
			return nil, err
		}
		inner, err := r.resolveDataChunks(&manifest.DataRef{Nesting: ref.Nesting - 1, Bytes: data})
		if err != nil {
			return nil, err
		}
		out = append(out, inner...)
	}
	return out, nil
}

func (r *Repository) decodeInodeFromChunkList(cl bundle.ChunkList) (*manifest.Inode, error) {
	var raw []byte
	for _, e := range cl {
		entry, ok := r.idx.Get(e.Fingerprint)
		if !ok {
			return nil, ErrChunkUnreachable
		}
		chunk, err := r.GetChunk(entry.BundleNumber, entry.ChunkIndex)
		if err != nil {
			return nil, err
		}
		raw = append(raw, chunk...)
	}
	return manifest.UnmarshalInode(raw)
}
