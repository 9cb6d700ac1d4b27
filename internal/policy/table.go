package policy

import "pupitre/access/internal/model"

// Rules is the canonical authorization table. Loaded once, read-only;
// changing it is a redeploy, never a runtime mutation.
//
// Profiles are provisioned by the identity bridge and soft-retired, so no
// role gets insert or delete on them, super_admin included (that path
// runs with elevated trust outside row policies).
var Rules = map[model.Role]map[Class]map[Action]Scope{
	model.RoleSuperAdmin: {
		ClassProfile: {
			ActionSelect: ScopeAny,
			ActionUpdate: ScopeAny,
		},
		ClassAssessment: anyAll(),
		ClassProject:    anyAll(),
	},
	model.RoleSchoolAdmin: {
		ClassProfile: {
			ActionSelect: ScopeSchool,
			ActionUpdate: ScopeSelf,
		},
		ClassAssessment: schoolAdminResource(),
		ClassProject:    schoolAdminResource(),
	},
	model.RoleTeacher: {
		ClassProfile: {
			ActionSelect: ScopeSelf,
			ActionUpdate: ScopeSelf,
		},
		ClassAssessment: teacherResource(),
		ClassProject:    teacherResource(),
	},
	model.RoleStudent: {
		ClassProfile: {
			ActionSelect: ScopeSelf,
			ActionUpdate: ScopeSelf,
		},
		ClassAssessment: studentResource(),
		ClassProject:    studentResource(),
	},
}

func anyAll() map[Action]Scope {
	return map[Action]Scope{
		ActionSelect: ScopeAny,
		ActionInsert: ScopeAny,
		ActionUpdate: ScopeAny,
		ActionDelete: ScopeAny,
	}
}

func schoolAdminResource() map[Action]Scope {
	return map[Action]Scope{
		ActionSelect: ScopeSchool,
		ActionInsert: ScopeSchool,
		ActionUpdate: ScopeSchool,
		ActionDelete: ScopeSchool,
	}
}

// Teachers are read-oriented on school resources: they see the whole
// school but only author rows they own.
func teacherResource() map[Action]Scope {
	return map[Action]Scope{
		ActionSelect: ScopeSchool,
		ActionInsert: ScopeOwn,
		ActionUpdate: ScopeOwn,
	}
}

func studentResource() map[Action]Scope {
	return map[Action]Scope{
		ActionSelect: ScopeOwn,
	}
}
