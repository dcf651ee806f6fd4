package extractor

import (
	"strings"

	"github.com/dshills/coderag/pkg/types"
)

// Role names derived from type naming conventions
const (
	RoleAggregate   = "aggregate"
	RoleEntity      = "entity"
	RoleValueObject = "value_object"
	RoleRepository  = "repository"
	RoleService     = "service"
	RoleCommand     = "command"
	RoleQuery       = "query"
	RoleHandler     = "handler"
	RoleController  = "controller"
)

var roleSuffixes = []struct {
	suffixes []string
	role     string
}{
	{[]string{"AggregateRoot", "Aggregate"}, RoleAggregate},
	{[]string{"Entity"}, RoleEntity},
	{[]string{"ValueObject", "VO"}, RoleValueObject},
	{[]string{"Repository", "Repo"}, RoleRepository},
	{[]string{"Service"}, RoleService},
	{[]string{"Command", "Cmd"}, RoleCommand},
	{[]string{"Query"}, RoleQuery},
	{[]string{"Handler"}, RoleHandler},
	{[]string{"Controller"}, RoleController},
}

// Roles returns the architectural roles suggested by the names of
// type-like symbols. Aggregates are also entities.
func Roles(symbols []types.Symbol) []string {
	var roles []string
	for _, sym := range symbols {
		switch sym.Kind {
		case types.KindStruct, types.KindInterface, types.KindClass, types.KindType:
		default:
			continue
		}
		for _, rs := range roleSuffixes {
			if hasAnySuffix(sym.Name, rs.suffixes) {
				roles = append(roles, rs.role)
				if rs.role == RoleAggregate {
					roles = append(roles, RoleEntity)
				}
			}
		}
	}
	return roles
}

func hasAnySuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) && len(name) > len(s) {
			return true
		}
	}
	return false
}
