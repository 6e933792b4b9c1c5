package repository

import "github.com/pesio-ai/be-contracts-access/internal/database"

// Stores bundles one implementation of every store the service needs.
type Stores struct {
	Tx        Transactor
	Roles     RoleStore
	Teams     TeamStore
	Contracts ContractStore
	Rules     ApprovalRuleStore
	AuditLogs AuditLogStore
	Requests  ApprovalRequestStore
	Terms     TermStore
}

// NewPostgresStores wires the Postgres repositories over db.
func NewPostgresStores(db *database.DB) Stores {
	return Stores{
		Tx:        db,
		Roles:     NewRoleRepository(db),
		Teams:     NewTeamRepository(db),
		Contracts: NewContractRepository(db),
		Rules:     NewApprovalRulesRepository(db),
		AuditLogs: NewAuditLogRepository(db),
		Requests:  NewApprovalRequestsRepository(db),
		Terms:     NewTermsRepository(db),
	}
}
