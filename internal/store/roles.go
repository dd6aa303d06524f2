package store

import (
	"fmt"

	"github.com/dukerupert/crewtasks/internal/model"
)

// roleTable is the single mapping between application roles and the role
// names stored in the database. Both directions are total.
var roleTable = []struct {
	app    model.Role
	stored string
}{
	{model.RoleAdmin, "admin"},
	{model.RoleManager, "landlord"},
	{model.RoleEmployee, "tenant"},
	{model.RoleTeamLead, "merchant"},
}

func toStoredRole(r model.Role) (string, error) {
	for _, e := range roleTable {
		if e.app == r {
			return e.stored, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", r)
}

func fromStoredRole(s string) (model.Role, error) {
	for _, e := range roleTable {
		if e.stored == s {
			return e.app, nil
		}
	}
	return "", fmt.Errorf("unknown stored role %q", s)
}
