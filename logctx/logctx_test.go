package logctx

import "testing"

func TestForRepoWithOp(t *testing.T) {
	entry := WithOp(ForRepo("/tmp/repo"), "vacuum")
	if entry.Data["repo"] != "/tmp/repo" {
		t.Fatalf("expected repo field to be set")
	}
	if entry.Data["op"] != "vacuum" {
		t.Fatalf("expected op field to be set")
	}
}
