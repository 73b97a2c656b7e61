package storage

import (
	"database/sql"
	"testing"
)

func TestGetOrCreateRepo(t *testing.T) {
	db := openTestDB(t)

	repo, err := db.GetOrCreateRepo("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if repo.FullName() != "acme/widgets" {
		t.Errorf("expected acme/widgets, got %s", repo.FullName())
	}

	again, err := db.GetOrCreateRepo("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != repo.ID {
		t.Errorf("expected same repo, got %d != %d", again.ID, repo.ID)
	}

	other, err := db.GetOrCreateRepo("acme", "gadgets")
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == repo.ID {
		t.Error("expected distinct repo for different name")
	}
}

func TestGetOrCreateRepoValidation(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.GetOrCreateRepo("", "widgets"); err == nil {
		t.Error("expected error for empty owner")
	}
	if _, err := db.GetOrCreateRepo("acme", ""); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestGetRepoByFullName(t *testing.T) {
	db := openTestDB(t)

	created, _ := db.GetOrCreateRepo("acme", "widgets")

	repo, err := db.GetRepoByFullName("acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	if repo.ID != created.ID {
		t.Errorf("expected repo %d, got %d", created.ID, repo.ID)
	}

	if _, err := db.GetRepoByFullName("acme/missing"); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
	if _, err := db.GetRepoByFullName("not-a-full-name"); err == nil {
		t.Error("expected error for malformed name")
	}
}

func TestSplitFullName(t *testing.T) {
	tests := []struct {
		in    string
		owner string
		name  string
		ok    bool
	}{
		{"acme/widgets", "acme", "widgets", true},
		{"acme/widgets/extra", "acme", "widgets/extra", true},
		{"acme", "", "", false},
		{"/widgets", "", "", false},
		{"acme/", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		owner, name, ok := SplitFullName(tt.in)
		if owner != tt.owner || name != tt.name || ok != tt.ok {
			t.Errorf("SplitFullName(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, owner, name, ok, tt.owner, tt.name, tt.ok)
		}
	}
}

func TestUpsertPullRequest(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")

	pr, err := db.UpsertPullRequest(&PullRequest{
		RepoID:  repo.ID,
		Number:  42,
		Title:   "Add feature",
		Author:  "octocat",
		HeadSHA: "abc123",
		State:   "open",
	})
	if err != nil {
		t.Fatal(err)
	}
	if pr.ID == 0 {
		t.Error("expected assigned ID")
	}

	// Update on synchronize
	updated, err := db.UpsertPullRequest(&PullRequest{
		RepoID:  repo.ID,
		Number:  42,
		Title:   "Add feature",
		Author:  "octocat",
		HeadSHA: "def456",
		State:   "open",
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID != pr.ID {
		t.Errorf("expected same PR row, got %d != %d", updated.ID, pr.ID)
	}
	if updated.HeadSHA != "def456" {
		t.Errorf("expected updated head SHA, got %s", updated.HeadSHA)
	}

	// Close as merged
	closed, err := db.UpsertPullRequest(&PullRequest{
		RepoID:  repo.ID,
		Number:  42,
		Title:   "Add feature",
		Author:  "octocat",
		HeadSHA: "def456",
		State:   "closed",
		Merged:  true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if closed.State != "closed" || !closed.Merged {
		t.Errorf("expected closed+merged, got state=%s merged=%v", closed.State, closed.Merged)
	}
}

func TestListOpenPullRequests(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")
	db.UpsertPullRequest(&PullRequest{RepoID: repo.ID, Number: 1, State: "open"})
	db.UpsertPullRequest(&PullRequest{RepoID: repo.ID, Number: 2, State: "closed"})
	db.UpsertPullRequest(&PullRequest{RepoID: repo.ID, Number: 3, State: "open"})

	open, err := db.ListOpenPullRequests(repo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open PRs, got %d", len(open))
	}
	if open[0].Number != 1 || open[1].Number != 3 {
		t.Errorf("unexpected ordering: %d, %d", open[0].Number, open[1].Number)
	}
}

func TestUpdateRepoDetails(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")
	if err := db.UpdateRepoDetails(repo.ID, "https://github.com/acme/widgets.git", "main"); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetRepoByID(repo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CloneURL != "https://github.com/acme/widgets.git" {
		t.Errorf("unexpected clone URL: %s", got.CloneURL)
	}
	if got.DefaultBranch != "main" {
		t.Errorf("unexpected default branch: %s", got.DefaultBranch)
	}
}
