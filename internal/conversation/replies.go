package conversation

import "github.com/chatcart/chatcart/internal/domain"

// Canned reply texts for the conversation flow. Kept deterministic so the
// flow works identically with the gateway degraded.
const (
	welcomeText = "Welcome! 🎉\n\nI'm here to help you place orders easily. " +
		"Just tell me what you'd like to order, or type 'help' for options."

	helpText = "Here's how I can help you:\n\n" +
		"🛒 *Place an Order*: Just tell me what you want to order\n" +
		"📦 *Track Order*: Check your order status\n" +
		"❌ *Cancel Order*: Cancel a pending order\n" +
		"💬 *Contact Support*: Get help from our team\n\n" +
		"You can also use the buttons below for quick actions!"

	unclearText = "I'm not sure what you're looking for. Here are some things I can help with:\n\n" +
		"• Place a new order\n" +
		"• Track existing orders\n" +
		"• Get help or contact support\n\n" +
		"Please choose an option below or tell me what you need!"

	askOrderText = "🛒 What would you like to order? Just tell me the items and quantities."

	paymentPromptText = "Got it! 📝 How would you like to pay?\n\n" +
		"1️⃣ M-Pesa\n2️⃣ Cash on delivery\n\nReply with 1 or 2, or tap a button below."

	mpesaInstructionsText = "📱 Please send the payment via M-Pesa and paste the " +
		"confirmation message here to complete your order."

	cashInstructionsText = "💵 Cash on delivery selected. Reply with your delivery " +
		"address to confirm your order."

	orderConfirmedText = "🛒 *ORDER CONFIRMATION* 🛒\n\n" +
		"Thank you for your order! 🙏\n" +
		"Your order has been received and is being processed."

	orderCancelledText = "Your order has been cancelled. ❌\n" +
		"Let me know if you'd like to order something else!"

	supportText = "💬 I've flagged this for our support team — someone will get " +
		"back to you shortly. You can keep describing the issue here."

	noOrderToTrackText = "I couldn't find a recent order for you. 🔍\n" +
		"Would you like to place a new one?"
)

// mainMenuButtons is the standard quick-reply set attached to welcome,
// help and fallback messages.
func mainMenuButtons() []domain.QuickReply {
	return []domain.QuickReply{
		{ID: "help_menu", Title: "📋 Show Menu"},
		{ID: "track_order", Title: "📦 Track Order"},
		{ID: "contact_support", Title: "💬 Contact Support"},
	}
}

// paymentButtons offers the two supported payment methods.
func paymentButtons() []domain.QuickReply {
	return []domain.QuickReply{
		{ID: "payment_mpesa", Title: "📱 M-Pesa"},
		{ID: "payment_cash", Title: "💵 Cash on Delivery"},
	}
}
