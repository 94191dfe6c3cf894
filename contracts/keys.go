package contracts

// Well-known data part keys exchanged between agents.
const (
	KeyIntentMandate  = "ap2.mandates.IntentMandate"
	KeyCartMandate    = "ap2.mandates.CartMandate"
	KeyPaymentMandate = "ap2.mandates.PaymentMandate"
	KeyCartMandates   = "cart_mandates"
	KeyPaymentMethods = "payment_methods"
	KeyPaymentStatus  = "payment_status"
	KeyCallerID       = "shopping_agent_id"
	KeyAction         = "action"
	KeyError          = "error"
)

// Actions understood by the credentials provider
const (
	ActionGetPaymentMethods = "get_payment_methods"
	ActionInitiatePayment   = "initiate_payment"
)
