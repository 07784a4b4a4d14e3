package audithook

// Action constants for audit events.
const (
	// Receipt actions
	ActionReceiptPending  = "receipt.pending"
	ActionReceiptRejected = "receipt.rejected"

	// Purchase completion actions
	ActionPurchaseAcknowledged = "purchase.acknowledged"
	ActionPurchaseConsumed     = "purchase.consumed"

	// Entitlement actions
	ActionEntitlementGranted = "entitlement.granted"
	ActionEntitlementRevoked = "entitlement.revoked"

	// Remote actions
	ActionRemoteError        = "remote.error"
	ActionReconnectScheduled = "remote.reconnect_scheduled"

	// Reconcile actions
	ActionReconcileCompleted = "reconcile.completed"
)

// Resource constants for audit events.
const (
	ResourceReceipt     = "receipt"
	ResourceEntitlement = "entitlement"
	ResourceRemote      = "remote"
	ResourceReconcile   = "reconcile"
)

// Category constants for audit events.
const (
	CategoryPurchase    = "purchase"
	CategoryAccess      = "access"
	CategoryIntegration = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
