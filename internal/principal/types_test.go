package principal

import "testing"

func TestDisplayName(t *testing.T) {
	cases := []struct {
		first, last, username, want string
	}{
		{"Maria", "Weber", "mweber", "Maria Weber"},
		{"", "Weber", "mweber", "Weber"},
		{"Maria", "", "mweber", "Maria"},
		{"", "", "mweber", "mweber"},
	}
	for _, c := range cases {
		p := Principal{FirstName: c.first, LastName: c.last, Username: c.username}
		if got := p.DisplayName(); got != c.want {
			t.Fatalf("DisplayName(%q,%q,%q) = %q, want %q", c.first, c.last, c.username, got, c.want)
		}
	}
}

func TestHasRole(t *testing.T) {
	p := Principal{Roles: []string{RoleConsultant, RoleSupervisor}}
	if !p.HasRole(RoleSupervisor) {
		t.Fatalf("expected supervisor role")
	}
	if p.HasRole(RoleGroupChatConsultant) {
		t.Fatalf("unexpected group chat role")
	}
}
