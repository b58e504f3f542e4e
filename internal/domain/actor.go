package domain

// Roles known to the stock engine.
const (
	RoleAdmin    = "admin"
	RoleVendor   = "vendor"
	RoleCustomer = "customer"
	RoleService  = "service"
	RoleSystem   = "system"
)

// Actor is the caller a mutation is attributed to.
type Actor struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	VendorID string `json:"vendor_id,omitempty"`
}

// SystemActor attributes background work such as expiry sweeps.
var SystemActor = Actor{ID: "stock-ledger", Role: RoleSystem}

// String renders the actor as recorded on movements.
func (a Actor) String() string {
	if a.Role == "" {
		return a.ID
	}
	return a.Role + ":" + a.ID
}

// CanSettle reports whether a may read, commit or release r. Customers are
// limited to holds they placed themselves.
func (a Actor) CanSettle(r *Reservation) bool {
	switch a.Role {
	case RoleAdmin, RoleService, RoleSystem:
		return true
	case RoleCustomer:
		return a.ID != "" && r.Holder == a.String()
	default:
		return false
	}
}

// CanManage reports whether a may change v's stock directly. Admins manage
// every variant; vendors only their own; the system actor is trusted.
func (a Actor) CanManage(v *Variant) bool {
	switch a.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleVendor:
		return a.VendorID != "" && a.VendorID == v.VendorID
	default:
		return false
	}
}
