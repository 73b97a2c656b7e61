package storage

import "testing"

func TestReplaceAndListPatterns(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")

	patterns := []CodePattern{
		{PatternType: "error-handling", PatternData: `{"examples":["if err != nil"]}`, Frequency: 12},
		{PatternType: "loop", PatternData: `{"examples":["for i := range"]}`, Frequency: 4},
	}
	if err := db.ReplacePatterns(repo.ID, patterns); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListPatterns(repo.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(got))
	}
	// Highest frequency first
	if got[0].PatternType != "error-handling" || got[0].Frequency != 12 {
		t.Errorf("unexpected first pattern: %+v", got[0])
	}

	byType, err := db.ListPatterns(repo.ID, "loop")
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 1 || byType[0].PatternType != "loop" {
		t.Errorf("unexpected filtered patterns: %+v", byType)
	}

	// Replace drops the old set
	if err := db.ReplacePatterns(repo.ID, patterns[:1]); err != nil {
		t.Fatal(err)
	}
	got, _ = db.ListPatterns(repo.ID, "")
	if len(got) != 1 {
		t.Errorf("expected 1 pattern after replace, got %d", len(got))
	}
}

func TestReplaceAndListDependencies(t *testing.T) {
	db := openTestDB(t)

	repo, _ := db.GetOrCreateRepo("acme", "widgets")

	deps := []Dependency{
		{SourceFile: "app.py", TargetFile: "utils.py"},
		{SourceFile: "worker.py", TargetFile: "utils.py", DependencyType: "import"},
		{SourceFile: "app.py", TargetFile: "utils.py"}, // duplicate edge ignored
	}
	if err := db.ReplaceDependencies(repo.ID, deps); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListDependencies(repo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 unique edges, got %d", len(got))
	}
	if got[0].DependencyType != "import" {
		t.Errorf("expected default dependency type import, got %s", got[0].DependencyType)
	}

	dependents, err := db.DependentsOf(repo.ID, "utils.py")
	if err != nil {
		t.Fatal(err)
	}
	if len(dependents) != 2 || dependents[0] != "app.py" || dependents[1] != "worker.py" {
		t.Errorf("unexpected dependents: %v", dependents)
	}
}

func TestPatternsScopedToRepo(t *testing.T) {
	db := openTestDB(t)

	repoA, _ := db.GetOrCreateRepo("acme", "widgets")
	repoB, _ := db.GetOrCreateRepo("acme", "gadgets")

	db.ReplacePatterns(repoA.ID, []CodePattern{{PatternType: "class", PatternData: "{}", Frequency: 1}})
	db.ReplacePatterns(repoB.ID, []CodePattern{{PatternType: "function", PatternData: "{}", Frequency: 2}})

	got, err := db.ListPatterns(repoA.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].PatternType != "class" {
		t.Errorf("expected only repoA patterns, got %+v", got)
	}
}
