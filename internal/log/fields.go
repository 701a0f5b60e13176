package log

// Common field names for structured logging.
const (
	FieldComponent = "component"
	FieldError     = "error"
	FieldAccountID = "account_id"
	FieldEntryID   = "entry_id"
	FieldAnchorID  = "anchor_id"
	FieldAmount    = "amount"
	FieldDate      = "date"
)

// Components defines standard component names.
const (
	ComponentApp        = "app"
	ComponentLedger     = "ledger"
	ComponentRecurrence = "recurrence"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentSeed       = "seed"
)
