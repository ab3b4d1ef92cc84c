package repo

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// BundleUsage reports, for one bundle, how much of its content is
// still reachable from a live backup.
type BundleUsage struct {
	BundleNumber uint32
	TotalSize    uint64
	UsedSize     uint64
}

// Ratio returns the bundle's used fraction in [0, 1]; a bundle with no
// content at all reports 1 (nothing to reclaim).
func (u BundleUsage) Ratio() float64 {
	if u.TotalSize == 0 {
		return 1
	}
	return float64(u.UsedSize) / float64(u.TotalSize)
}

// AnalyzeResult is analyze()'s report: per-bundle usage plus the total
// reclaimable size, TotalSize minus UsedSize summed over every bundle.
type AnalyzeResult struct {
	Bundles     []BundleUsage
	Reclaimable uint64
}

// String renders a human-readable summary, following the teacher's
// convention of giving diagnostic result types a legible String()
// rather than leaving that to a CLI layer.
func (a AnalyzeResult) String() string {
	return fmt.Sprintf("%d bundles, %s reclaimable", len(a.Bundles), humanize.Bytes(a.Reclaimable))
}

// CheckResult is check()'s report: counts of entries examined at each
// cascade stage and any problems found.
type CheckResult struct {
	BundlesChecked  int
	BundlesBroken   []string
	IndexOK         bool
	BackupsChecked  int
	BackupsBroken   []string
	UnreachableRefs int
}

// OK reports whether the cascade found no problems at all.
func (c CheckResult) OK() bool {
	return len(c.BundlesBroken) == 0 && c.IndexOK && len(c.BackupsBroken) == 0 && c.UnreachableRefs == 0
}

func (c CheckResult) String() string {
	if c.OK() {
		return fmt.Sprintf("ok: %d bundles, %d backups checked", c.BundlesChecked, c.BackupsChecked)
	}
	return fmt.Sprintf("problems found: %d broken bundles, %d broken backups, %d unreachable refs",
		len(c.BundlesBroken), len(c.BackupsBroken), c.UnreachableRefs)
}
