package domain

import "slices"

// Intent classifies what a customer message is asking for.
type Intent string

const (
	IntentPlaceOrder     Intent = "place_order"
	IntentTrackOrder     Intent = "track_order"
	IntentCancelOrder    Intent = "cancel_order"
	IntentMpesaPayment   Intent = "mpesa_payment"
	IntentCashPayment    Intent = "cash_payment"
	IntentContactSupport Intent = "contact_support"
	IntentGeneralInquiry Intent = "general_inquiry"
	IntentUnknown        Intent = "unknown"
)

// Intents lists every conversation intent the classifier may return.
func Intents() []Intent {
	return []Intent{
		IntentPlaceOrder,
		IntentTrackOrder,
		IntentCancelOrder,
		IntentMpesaPayment,
		IntentCashPayment,
		IntentContactSupport,
		IntentGeneralInquiry,
		IntentUnknown,
	}
}

// ParseIntent converts a classifier answer into an Intent, defaulting to
// unknown for anything outside the closed set.
func ParseIntent(s string) Intent {
	in := Intent(s)
	if slices.Contains(Intents(), in) {
		return in
	}
	return IntentUnknown
}

// ReplyIntent classifies a customer's reply to a recovery message.
type ReplyIntent string

const (
	ReplyContinueOrder ReplyIntent = "continue_order"
	ReplyModifyOrder   ReplyIntent = "modify_order"
	ReplyPriceConcern  ReplyIntent = "price_concern"
	ReplyNotInterested ReplyIntent = "not_interested"
	ReplyGeneral       ReplyIntent = "general"
)

// ReplyIntents lists every recovery-reply intent.
func ReplyIntents() []ReplyIntent {
	return []ReplyIntent{
		ReplyContinueOrder,
		ReplyModifyOrder,
		ReplyPriceConcern,
		ReplyNotInterested,
		ReplyGeneral,
	}
}

// ParseReplyIntent converts a classifier answer into a ReplyIntent,
// defaulting to general.
func ParseReplyIntent(s string) ReplyIntent {
	in := ReplyIntent(s)
	if slices.Contains(ReplyIntents(), in) {
		return in
	}
	return ReplyGeneral
}
