package pg

import "strings"

// Roles are stored as a comma-separated list; role names never contain commas.

func rolesToCSV(roles []string) string {
	return strings.Join(roles, ",")
}

func rolesFromCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}
