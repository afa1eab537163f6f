package models

type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleVendor Role = "VENDOR"
	RoleRunner Role = "RUNNER"
	RoleAdmin  Role = "ADMIN"
)

type Capability string

const (
	CapBypassGate    Capability = "bypass_gate"
	CapManageConfig  Capability = "manage_config"
	CapSettlePayouts Capability = "settle_payouts"
	CapRefundAny     Capability = "refund_any"
)

// Principal is the authenticated caller with capabilities resolved once per request.
type Principal struct {
	ID           string
	Email        string
	Role         Role
	Capabilities map[Capability]bool
}

func (p Principal) Can(c Capability) bool {
	return p.Capabilities[c]
}

// System is the principal used for processor-driven transitions.
func System() Principal {
	return Principal{ID: "system", Role: RoleAdmin, Capabilities: map[Capability]bool{
		CapBypassGate: true,
	}}
}
