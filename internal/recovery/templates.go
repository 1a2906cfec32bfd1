package recovery

import "github.com/chatcart/chatcart/internal/domain"

// fallbackTemplate is the deterministic message used when the gateway
// cannot personalize a campaign. Message production never fails.
type fallbackTemplate struct {
	text      string
	incentive domain.Incentive
}

var fallbackTemplates = map[domain.CampaignType]fallbackTemplate{
	domain.CampaignImmediate: {
		text:      "👋 Hi! You left some items in your cart. Complete your order now? 🛒",
		incentive: domain.Incentive{Type: "none"},
	},
	domain.CampaignGentleReminder: {
		text:      "🛍️ Your cart is waiting! Complete your order and get 5% off. Use code SAVE5 📱",
		incentive: domain.Incentive{Type: "discount", Value: 5},
	},
	domain.CampaignUrgent: {
		text:      "⏰ Last chance! Your cart expires soon. Complete now and get FREE delivery! 🚚",
		incentive: domain.Incentive{Type: "free_shipping"},
	},
	domain.CampaignFinalCall: {
		text:      "🎯 Final reminder: 10% off your cart + FREE delivery expires in 2 hours! ⏰",
		incentive: domain.Incentive{Type: "discount", Value: 10},
	},
}

// Canned replies to a customer's response to a recovery message, keyed by
// reply intent.
var replyTexts = map[domain.ReplyIntent]string{
	domain.ReplyContinueOrder: "Awesome! 🎉 Let's pick up where you left off. Reply 'confirm' to complete your order.",
	domain.ReplyModifyOrder:   "No problem! Tell me what you'd like to change about your order. ✏️",
	domain.ReplyPriceConcern:  "I hear you! 💰 Use code SAVE10 for 10% off your order, valid for the next 24 hours.",
	domain.ReplyNotInterested: "No problem! Your cart will be saved for 7 days in case you change your mind. 😊",
	domain.ReplyGeneral:       "Thanks for getting back to us! Would you like to complete your order? Reply YES to continue.",
}
