package persona

import "testing"

func TestSeedCoversEveryRole(t *testing.T) {
	store := NewMemoryStore(Seed())

	cases := []struct {
		role string
		id   string
	}{
		{RoleAssistant, AssistantID},
		{RoleHost, HostID},
		{RoleGuest, GuestID},
	}
	for _, tc := range cases {
		p, ok := store.FindByRole(tc.role)
		if !ok {
			t.Fatalf("no persona for role %s", tc.role)
		}
		if p.ID != tc.id || p.Instructions == "" {
			t.Fatalf("unexpected persona for role %s: %+v", tc.role, p)
		}
	}

	assistant, ok := store.FindByID(AssistantID)
	if !ok || assistant.Instructions != "You are a helpful voice AI assistant." {
		t.Fatalf("unexpected assistant persona: %+v", assistant)
	}
}

func TestFindByRoleKeepsFirstDeclared(t *testing.T) {
	store := NewMemoryStore([]Persona{
		{ID: "h1", Role: RoleHost, Name: "First"},
		{ID: "h2", Role: RoleHost, Name: "Second"},
		{ID: "x", Name: "No role"},
	})

	host, ok := store.FindByRole(RoleHost)
	if !ok || host.ID != "h1" {
		t.Fatalf("expected first host, got %+v", host)
	}
	if _, ok := store.FindByID("h2"); !ok {
		t.Fatal("second host should still be reachable by id")
	}
	if _, ok := store.FindByRole(""); ok {
		t.Fatal("empty role must not match")
	}
}

func TestListReturnsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	items := store.List()
	items[0].Name = "mutated"

	if store.List()[0].Name == "mutated" {
		t.Fatal("List must not expose internal slice")
	}
	if p, _ := store.FindByID(items[0].ID); p.Name == "mutated" {
		t.Fatal("lookups must not see caller mutations")
	}
}

func TestFindByIDMissing(t *testing.T) {
	store := NewMemoryStore(nil)
	if _, ok := store.FindByID("nobody"); ok {
		t.Fatal("expected lookup to fail")
	}
	if _, ok := store.FindByRole(RoleGuest); ok {
		t.Fatal("expected role lookup to fail")
	}
}
