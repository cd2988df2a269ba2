package supervisor

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agusx1211/spindle/internal/spool"
)

func initGitRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"checkout", "-b", "main"},
	} {
		runGit(t, repo, args...)
	}
	if err := os.WriteFile(filepath.Join(repo, "main.txt"), []byte("initial\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	runGit(t, repo, "add", "main.txt")
	runGit(t, repo, "-c", "user.name=Test", "-c", "user.email=test@example.com", "commit", "-m", "initial commit")
	return repo
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func TestSpinWithShardRunsInWorktree(t *testing.T) {
	s, _ := newTestSupervisor(t, 15)
	repo := initGitRepo(t)

	// The child proves where it ran by committing a file in its cwd.
	id, err := s.Spin(t.Context(), SpinRequest{
		Prompt: "echo work > shard.txt && git add shard.txt && " +
			"git -c user.name=Child -c user.email=child@test commit -m 'shard work' -q && " +
			"echo RESULT: committed",
		WorkingDir: repo,
		Shard:      true,
	})
	if err != nil {
		t.Fatalf("Spin: %v", err)
	}

	sp := getSpool(t, s, id)
	if sp.Shard == nil {
		t.Fatalf("no shard on record")
	}
	if !strings.HasPrefix(sp.Shard.BranchName, "shard-"+id) {
		t.Fatalf("branch = %q", sp.Shard.BranchName)
	}
	if sp.WorkingDir != sp.Shard.WorktreePath {
		t.Fatalf("working dir %q != worktree %q", sp.WorkingDir, sp.Shard.WorktreePath)
	}

	tickUntil(t, s, 10*time.Second, func() bool {
		return getSpool(t, s, id).Terminal()
	})
	sp = getSpool(t, s, id)
	if sp.Status != spool.StatusComplete {
		t.Fatalf("spool = %s (error %q)", sp.Status, sp.Error)
	}

	st, err := s.ShardStatus(t.Context(), id)
	if err != nil {
		t.Fatalf("ShardStatus: %v", err)
	}
	if !st.WorktreeExists || st.AheadBy != 1 || !st.Clean {
		t.Fatalf("shard status = %+v", st)
	}

	res, err := s.ShardMerge(t.Context(), id, false)
	if err != nil {
		t.Fatalf("ShardMerge: %v", err)
	}
	if res.Conflicts != "" || res.MergedCommits != 1 {
		t.Fatalf("merge result = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(repo, "shard.txt")); err != nil {
		t.Fatalf("merged file missing: %v", err)
	}

	sp = getSpool(t, s, id)
	if sp.Shard == nil || !sp.Shard.Merged {
		t.Fatalf("merge not recorded: %+v", sp.Shard)
	}

	// Merging again must fail cleanly: the worktree is gone.
	if _, err := s.ShardMerge(t.Context(), id, false); err == nil {
		t.Fatalf("second merge should fail")
	}
}

func TestShardPermissionProfileAutoShards(t *testing.T) {
	s, _ := newTestSupervisor(t, 15)
	repo := initGitRepo(t)

	id, err := s.Spin(t.Context(), SpinRequest{
		Prompt:     "echo RESULT: ok",
		WorkingDir: repo,
		Permission: spool.PermissionShard,
	})
	if err != nil {
		t.Fatalf("Spin: %v", err)
	}
	sp := getSpool(t, s, id)
	if sp.Shard == nil {
		t.Fatalf("shard permission profile did not allocate a shard")
	}

	tickUntil(t, s, 10*time.Second, func() bool {
		return getSpool(t, s, id).Terminal()
	})
	if err := s.ShardAbandon(t.Context(), id, false); err != nil {
		t.Fatalf("ShardAbandon: %v", err)
	}
	sp = getSpool(t, s, id)
	if sp.Shard == nil || !sp.Shard.Abandoned {
		t.Fatalf("abandon not recorded: %+v", sp.Shard)
	}
	if _, err := os.Stat(sp.Shard.WorktreePath); !os.IsNotExist(err) {
		t.Fatalf("worktree survived abandon")
	}
}

func TestShardAllocationFailureBlocksAdmission(t *testing.T) {
	s, _ := newTestSupervisor(t, 15)
	notARepo := t.TempDir()

	_, err := s.Spin(t.Context(), SpinRequest{
		Prompt:     "echo RESULT: ok",
		WorkingDir: notARepo,
		Shard:      true,
	})
	if err == nil || !strings.Contains(err.Error(), "shard") {
		t.Fatalf("err = %v, want shard allocation failure", err)
	}

	all, _ := s.Store().List(nil)
	if len(all) != 0 {
		t.Fatalf("failed shard allocation left %d records", len(all))
	}
}

func TestShardOpsWithoutShard(t *testing.T) {
	s, _ := newTestSupervisor(t, 15)
	id, err := s.Spin(t.Context(), SpinRequest{Prompt: "echo RESULT: ok"})
	if err != nil {
		t.Fatalf("Spin: %v", err)
	}
	tickUntil(t, s, 5*time.Second, func() bool { return getSpool(t, s, id).Terminal() })

	if _, err := s.ShardStatus(t.Context(), id); err == nil {
		t.Fatalf("ShardStatus without shard should fail")
	}
	if _, err := s.ShardMerge(t.Context(), id, false); err == nil {
		t.Fatalf("ShardMerge without shard should fail")
	}
	if err := s.ShardAbandon(t.Context(), id, false); err == nil {
		t.Fatalf("ShardAbandon without shard should fail")
	}
}
