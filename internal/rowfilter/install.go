package rowfilter

import (
	"fmt"
	"strings"

	"pupitre/access/internal/policy"
)

// Declaration is the persisted, reviewable form of one row policy.
type Declaration struct {
	Version int
	Table   string
	Action  policy.Action
	Name    string
	SQL     string
}

func Declarations() []Declaration {
	policies := Compile()
	out := make([]Declaration, 0, len(policies))
	for _, tp := range policies {
		out = append(out, Declaration{
			Version: Version,
			Table:   string(tp.Table),
			Action:  tp.Action,
			Name:    fmt.Sprintf("%s_%s_v%d", tp.Table, tp.Action, Version),
			SQL:     tp.SQL(),
		})
	}
	return out
}

// Actor helper functions. app_actor_id reads the transaction setting;
// role and school come from profiles inside the database, so the
// application can only ever assert identity, never privilege.
// SECURITY DEFINER keeps the profiles lookup out of the profiles row
// policies themselves.
var preludeStatements = []string{
	`CREATE OR REPLACE FUNCTION app_actor_id() RETURNS uuid
LANGUAGE sql STABLE AS $$
  SELECT NULLIF(current_setting('app.actor_id', true), '')::uuid
$$`,
	`CREATE OR REPLACE FUNCTION app_actor_role() RETURNS text
LANGUAGE sql STABLE SECURITY DEFINER AS $$
  SELECT role FROM profiles WHERE id = app_actor_id()
$$`,
	`CREATE OR REPLACE FUNCTION app_actor_school() RETURNS uuid
LANGUAGE sql STABLE SECURITY DEFINER AS $$
  SELECT school_id FROM profiles WHERE id = app_actor_id()
$$`,
}

var actionCommand = map[policy.Action]string{
	policy.ActionSelect: "SELECT",
	policy.ActionInsert: "INSERT",
	policy.ActionUpdate: "UPDATE",
	policy.ActionDelete: "DELETE",
}

// InstallStatements returns the migration as individually executable
// statements: helper functions, row security enablement, and one policy
// per table/action. Applied explicitly via repository.InstallRowPolicies,
// never at request time.
func InstallStatements() []string {
	statements := make([]string, 0, 8+2*len(policy.Classes))
	statements = append(statements, preludeStatements...)

	for _, class := range policy.Classes {
		statements = append(statements,
			fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", class),
			fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", class),
		)
	}

	for _, decl := range Declarations() {
		statements = append(statements, fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", decl.Name, decl.Table))
		switch decl.Action {
		case policy.ActionInsert:
			statements = append(statements, fmt.Sprintf("CREATE POLICY %s ON %s FOR %s\n  WITH CHECK (%s)",
				decl.Name, decl.Table, actionCommand[decl.Action], decl.SQL))
		case policy.ActionUpdate:
			statements = append(statements, fmt.Sprintf("CREATE POLICY %s ON %s FOR %s\n  USING (%s)\n  WITH CHECK (%s)",
				decl.Name, decl.Table, actionCommand[decl.Action], decl.SQL, decl.SQL))
		default:
			statements = append(statements, fmt.Sprintf("CREATE POLICY %s ON %s FOR %s\n  USING (%s)",
				decl.Name, decl.Table, actionCommand[decl.Action], decl.SQL))
		}
	}
	return statements
}

// InstallSQL renders the whole migration as one auditable script.
func InstallSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- generated row policies, version %d\n\n", Version)
	for _, stmt := range InstallStatements() {
		b.WriteString(stmt)
		b.WriteString(";\n\n")
	}
	return b.String()
}
